// Package sqlite provides the SQLite-backed persistence collaborator for the
// real-time core.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tyrowin/relaychat/internal/store"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	is_online  INTEGER NOT NULL DEFAULT 0,
	last_seen  INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	created_by INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id  INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	user_id   INTEGER NOT NULL,
	is_admin  INTEGER NOT NULL DEFAULT 0,
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id    INTEGER NOT NULL,
	receiver_id  INTEGER,
	group_id     INTEGER REFERENCES groups(id) ON DELETE CASCADE,
	content      TEXT,
	message_type TEXT NOT NULL DEFAULT 'text',
	media_id     INTEGER,
	reply_to_id  INTEGER,
	is_read      INTEGER NOT NULL DEFAULT 0,
	is_delivered INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	deleted_at   INTEGER
);

CREATE TABLE IF NOT EXISTS call_logs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id     TEXT NOT NULL,
	caller_id   INTEGER NOT NULL,
	receiver_id INTEGER,
	group_id    INTEGER,
	call_type   TEXT NOT NULL DEFAULT 'audio',
	call_status TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER,
	duration    INTEGER
);

CREATE TABLE IF NOT EXISTS reactions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	user_id    INTEGER NOT NULL,
	emoji      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (message_id, user_id, emoji)
);

CREATE INDEX IF NOT EXISTS idx_reactions_message ON reactions(message_id);
CREATE INDEX IF NOT EXISTS idx_call_logs_call_id ON call_logs(call_id);
`

// Store provides SQLite-backed persistence for messages, calls, reactions,
// group membership and presence.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at the provided path. The special path
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn = "file:" + filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps an in-memory database shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// EnsureUser creates the user row if it does not exist yet.
func (s *Store) EnsureUser(ctx context.Context, id int64, username string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, username, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", id, err)
	}
	return nil
}

// CreateGroup creates a group and adds its creator as an admin member.
func (s *Store) CreateGroup(ctx context.Context, name string, createdBy int64) (int64, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(s.now())
	res, err := tx.ExecContext(ctx,
		`INSERT INTO groups (name, created_by, created_at) VALUES (?, ?, ?)`,
		name, createdBy, now)
	if err != nil {
		return 0, fmt.Errorf("insert group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("group id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, is_admin, joined_at) VALUES (?, ?, 1, ?)`,
		id, createdBy, now); err != nil {
		return 0, fmt.Errorf("insert group creator: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create group: %w", err)
	}
	return id, nil
}

// AddGroupMember adds userID to groupID. Adding an existing member is a no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT(group_id, user_id) DO NOTHING`,
		groupID, userID, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("add member %d to group %d: %w", userID, groupID, err)
	}
	return nil
}

// ListGroupMembers returns the user ids of every current member of groupID.
func (s *Store) ListGroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var members []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// CreateMessage persists a chat message and returns it with its server
// assigned id and timestamp.
func (s *Store) CreateMessage(ctx context.Context, in store.NewMessage) (store.Message, error) {
	if in.Type == "" {
		in.Type = store.MessageText
	}
	createdAt := s.now().UTC().Truncate(time.Millisecond)
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, group_id, content, message_type, media_id, reply_to_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.SenderID, nullInt(in.ReceiverID), nullInt(in.GroupID), nullString(in.Content),
		string(in.Type), nullInt(in.MediaID), nullInt(in.ReplyToID), toMillis(createdAt))
	if err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.Message{}, fmt.Errorf("message id: %w", err)
	}
	return store.Message{
		ID:         id,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		GroupID:    in.GroupID,
		Content:    in.Content,
		Type:       in.Type,
		MediaID:    in.MediaID,
		ReplyToID:  in.ReplyToID,
		CreatedAt:  createdAt,
	}, nil
}

// GetMessage loads a message by id. Soft-deleted messages are reported as
// store.ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, id int64) (store.Message, error) {
	var (
		m                                     store.Message
		receiverID, groupID, mediaID, replyTo sql.NullInt64
		content                               sql.NullString
		messageType                           string
		isRead, isDelivered                   bool
		createdAt                             int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, sender_id, receiver_id, group_id, content, message_type, media_id, reply_to_id,
		        is_read, is_delivered, created_at
		 FROM messages WHERE id = ? AND deleted_at IS NULL`, id).
		Scan(&m.ID, &m.SenderID, &receiverID, &groupID, &content, &messageType, &mediaID, &replyTo,
			&isRead, &isDelivered, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Message{}, store.ErrNotFound
	}
	if err != nil {
		return store.Message{}, fmt.Errorf("get message %d: %w", id, err)
	}
	m.ReceiverID = intPtr(receiverID)
	m.GroupID = intPtr(groupID)
	m.MediaID = intPtr(mediaID)
	m.ReplyToID = intPtr(replyTo)
	if content.Valid {
		m.Content = &content.String
	}
	m.Type = store.MessageType(messageType)
	m.IsRead = isRead
	m.IsDelivered = isDelivered
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

// CreateCallLog records a new call session.
func (s *Store) CreateCallLog(ctx context.Context, in store.NewCallLog) (store.CallLog, error) {
	if in.CallType == "" {
		in.CallType = "audio"
	}
	startedAt := s.now().UTC().Truncate(time.Millisecond)
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO call_logs (call_id, caller_id, receiver_id, group_id, call_type, call_status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.CallID, in.CallerID, nullInt(in.ReceiverID), nullInt(in.GroupID),
		in.CallType, string(in.Status), toMillis(startedAt))
	if err != nil {
		return store.CallLog{}, fmt.Errorf("insert call log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.CallLog{}, fmt.Errorf("call log id: %w", err)
	}
	return store.CallLog{
		ID:         id,
		CallID:     in.CallID,
		CallerID:   in.CallerID,
		ReceiverID: in.ReceiverID,
		GroupID:    in.GroupID,
		CallType:   in.CallType,
		Status:     in.Status,
		StartedAt:  startedAt,
	}, nil
}

// ListReactions returns every reaction on messageID ordered by creation.
func (s *Store) ListReactions(ctx context.Context, messageID int64) ([]store.Reaction, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, message_id, user_id, emoji, created_at
		 FROM reactions WHERE message_id = ? ORDER BY created_at, id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	var out []store.Reaction
	for rows.Next() {
		var (
			r         store.Reaction
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &createdAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateReaction stores a reaction.
func (s *Store) CreateReaction(ctx context.Context, in store.NewReaction) (store.Reaction, error) {
	createdAt := s.now().UTC().Truncate(time.Millisecond)
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)`,
		in.MessageID, in.UserID, in.Emoji, toMillis(createdAt))
	if err != nil {
		return store.Reaction{}, fmt.Errorf("insert reaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.Reaction{}, fmt.Errorf("reaction id: %w", err)
	}
	return store.Reaction{
		ID:        id,
		MessageID: in.MessageID,
		UserID:    in.UserID,
		Emoji:     in.Emoji,
		CreatedAt: createdAt,
	}, nil
}

// DeleteReaction removes a reaction by id.
func (s *Store) DeleteReaction(ctx context.Context, id int64) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM reactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reaction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete reaction %d: %w", id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetUserOnline records a user's presence. Unknown users are ignored.
func (s *Store) SetUserOnline(ctx context.Context, userID int64, online bool) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`,
		online, toMillis(s.now()), userID)
	if err != nil {
		return fmt.Errorf("set user %d online=%t: %w", userID, online, err)
	}
	return nil
}

// UserOnline reports the stored presence flag for userID.
func (s *Store) UserOnline(ctx context.Context, userID int64) (bool, error) {
	var online bool
	err := s.sqlDB.QueryRowContext(ctx, `SELECT is_online FROM users WHERE id = ?`, userID).Scan(&online)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("user %d presence: %w", userID, err)
	}
	return online, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}
