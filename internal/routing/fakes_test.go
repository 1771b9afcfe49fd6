package routing_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/store"
	"github.com/stretchr/testify/require"
)

// delivery is one envelope handed to the fake sender, already marshaled so
// tests assert on the wire shape.
type delivery struct {
	UserID int64
	Body   map[string]any
}

type fakeSender struct {
	mu        sync.Mutex
	connected map[int64]bool
	sent      []delivery
}

func newFakeSender(connected ...int64) *fakeSender {
	s := &fakeSender{connected: make(map[int64]bool)}
	for _, id := range connected {
		s.connected[id] = true
	}
	return s
}

func (s *fakeSender) Send(userID int64, envelope any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected[userID] {
		return false
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		panic(err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		panic(err)
	}
	s.sent = append(s.sent, delivery{UserID: userID, Body: body})
	return true
}

func (s *fakeSender) Broadcast(envelope any, recipients []int64) int {
	n := 0
	for _, id := range recipients {
		if s.Send(id, envelope) {
			n++
		}
	}
	return n
}

func (s *fakeSender) to(userID int64) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, d := range s.sent {
		if d.UserID == userID {
			out = append(out, d.Body)
		}
	}
	return out
}

func (s *fakeSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// fakeStore is an in-memory persistence collaborator with injectable
// failures.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	messages  map[int64]store.Message
	groups    map[int64][]int64
	calls     []store.CallLog
	reactions map[int64]store.Reaction
	clock     time.Time

	failCreateMessage error
	failListMembers   error
	failCreateCall    error
	failCreateReact   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:  make(map[int64]store.Message),
		groups:    make(map[int64][]int64),
		reactions: make(map[int64]store.Reaction),
		clock:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

var errStoreDown = errors.New("database is locked")

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) CreateMessage(_ context.Context, in store.NewMessage) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateMessage != nil {
		return store.Message{}, f.failCreateMessage
	}
	m := store.Message{
		ID:         f.id(),
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		GroupID:    in.GroupID,
		Content:    in.Content,
		Type:       in.Type,
		MediaID:    in.MediaID,
		ReplyToID:  in.ReplyToID,
		CreatedAt:  f.tick(),
	}
	f.messages[m.ID] = m
	return m, nil
}

func (f *fakeStore) GetMessage(_ context.Context, id int64) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) ListGroupMembers(_ context.Context, groupID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failListMembers != nil {
		return nil, f.failListMembers
	}
	return append([]int64(nil), f.groups[groupID]...), nil
}

func (f *fakeStore) CreateCallLog(_ context.Context, in store.NewCallLog) (store.CallLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateCall != nil {
		return store.CallLog{}, f.failCreateCall
	}
	c := store.CallLog{
		ID:         f.id(),
		CallID:     in.CallID,
		CallerID:   in.CallerID,
		ReceiverID: in.ReceiverID,
		GroupID:    in.GroupID,
		CallType:   in.CallType,
		Status:     in.Status,
		StartedAt:  f.tick(),
	}
	f.calls = append(f.calls, c)
	return c, nil
}

func (f *fakeStore) ListReactions(_ context.Context, messageID int64) ([]store.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Reaction
	for _, r := range f.reactions {
		if r.MessageID == messageID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) CreateReaction(_ context.Context, in store.NewReaction) (store.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateReact != nil {
		return store.Reaction{}, f.failCreateReact
	}
	r := store.Reaction{ID: f.id(), MessageID: in.MessageID, UserID: in.UserID, Emoji: in.Emoji, CreatedAt: f.tick()}
	f.reactions[r.ID] = r
	return r, nil
}

func (f *fakeStore) DeleteReaction(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reactions[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.reactions, id)
	return nil
}

func (f *fakeStore) callLogs() []store.CallLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.CallLog(nil), f.calls...)
}

func (f *fakeStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeStore) seedMessage(t *testing.T, m store.NewMessage) store.Message {
	t.Helper()
	saved, err := f.CreateMessage(context.Background(), m)
	require.NoError(t, err)
	return saved
}

func ptr[T any](v T) *T { return &v }

// num extracts a JSON number field as int64.
func num(t *testing.T, body map[string]any, key string) int64 {
	t.Helper()
	v, ok := body[key].(float64)
	require.Truef(t, ok, "field %q is not a number in %v", key, body)
	return int64(v)
}
