package sqlite_test

import (
	"context"
	"testing"

	"github.com/Tyrowin/relaychat/internal/store"
	"github.com/Tyrowin/relaychat/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func ptr[T any](v T) *T { return &v }

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open("  ")
	require.Error(t, err)
}

func TestMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	created, err := st.CreateMessage(ctx, store.NewMessage{
		SenderID:   1,
		ReceiverID: ptr(int64(2)),
		Content:    ptr("hello"),
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, store.MessageText, created.Type)
	assert.False(t, created.CreatedAt.IsZero())

	loaded, err := st.GetMessage(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, int64(1), loaded.SenderID)
	require.NotNil(t, loaded.ReceiverID)
	assert.Equal(t, int64(2), *loaded.ReceiverID)
	assert.Nil(t, loaded.GroupID)
	require.NotNil(t, loaded.Content)
	assert.Equal(t, "hello", *loaded.Content)
	assert.True(t, created.CreatedAt.Equal(loaded.CreatedAt))
}

func TestGetMessageNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetMessage(context.Background(), 42)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGroupMembership(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	groupID, err := st.CreateGroup(ctx, "team", 1)
	require.NoError(t, err)
	require.NoError(t, st.AddGroupMember(ctx, groupID, 3))
	require.NoError(t, st.AddGroupMember(ctx, groupID, 2))
	require.NoError(t, st.AddGroupMember(ctx, groupID, 2))

	members, err := st.ListGroupMembers(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, members)

	members, err = st.ListGroupMembers(ctx, groupID+1)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestGroupMessageRequiresExistingGroup(t *testing.T) {
	st := openTestStore(t)
	_, err := st.CreateMessage(context.Background(), store.NewMessage{
		SenderID: 1,
		GroupID:  ptr(int64(99)),
		Content:  ptr("nobody home"),
	})
	require.Error(t, err)
}

func TestCreateCallLog(t *testing.T) {
	st := openTestStore(t)
	log, err := st.CreateCallLog(context.Background(), store.NewCallLog{
		CallID:     "c1",
		CallerID:   1,
		ReceiverID: ptr(int64(2)),
		Status:     store.CallRequest,
	})
	require.NoError(t, err)
	assert.NotZero(t, log.ID)
	assert.Equal(t, "audio", log.CallType)
	assert.Equal(t, store.CallRequest, log.Status)
	assert.False(t, log.StartedAt.IsZero())
}

func TestReactionLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	msg, err := st.CreateMessage(ctx, store.NewMessage{SenderID: 1, ReceiverID: ptr(int64(2))})
	require.NoError(t, err)

	r, err := st.CreateReaction(ctx, store.NewReaction{MessageID: msg.ID, UserID: 2, Emoji: "👍"})
	require.NoError(t, err)

	_, err = st.CreateReaction(ctx, store.NewReaction{MessageID: msg.ID, UserID: 2, Emoji: "👍"})
	require.Error(t, err, "duplicate reaction must violate the unique constraint")

	list, err := st.ListReactions(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r.ID, list[0].ID)

	require.NoError(t, st.DeleteReaction(ctx, r.ID))
	require.ErrorIs(t, st.DeleteReaction(ctx, r.ID), store.ErrNotFound)

	list, err = st.ListReactions(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetUserOnline(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	require.NoError(t, st.EnsureUser(ctx, 7, "grace"))
	require.NoError(t, st.EnsureUser(ctx, 7, "grace"))

	require.NoError(t, st.SetUserOnline(ctx, 7, true))
	online, err := st.UserOnline(ctx, 7)
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, st.SetUserOnline(ctx, 7, false))
	online, err = st.UserOnline(ctx, 7)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, st.SetUserOnline(ctx, 8, true), "unknown users are ignored")
	_, err = st.UserOnline(ctx, 8)
	require.ErrorIs(t, err, store.ErrNotFound)
}
