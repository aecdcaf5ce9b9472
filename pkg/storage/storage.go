package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// User is a row in the users table. Mutable fields are overwritten on
// every upsert; first_seen_at is preserved.
type User struct {
	UserID        int64          `db:"user_id"`
	Username      sql.NullString `db:"username"`
	FirstName     sql.NullString `db:"first_name"`
	LastName      sql.NullString `db:"last_name"`
	Phone         sql.NullString `db:"phone"`
	IsBot         bool           `db:"is_bot"`
	FirstSeenAt   time.Time      `db:"first_seen_at"`
	LastUpdatedAt time.Time      `db:"last_updated_at"`
}

// Chat is a row in the chats table, keyed by the platform chat id.
type Chat struct {
	ChatID        int64          `db:"chat_id"`
	Title         sql.NullString `db:"title"`
	Username      sql.NullString `db:"username"`
	ChatKind      string         `db:"chat_kind"`
	MemberCount   sql.NullInt64  `db:"member_count"`
	Description   sql.NullString `db:"description"`
	InviteLink    sql.NullString `db:"invite_link"`
	FirstSeenAt   time.Time      `db:"first_seen_at"`
	LastUpdatedAt time.Time      `db:"last_updated_at"`
}

// Message is a row in the messages table. Rows are immutable once
// inserted; the fingerprint column carries a unique constraint and is
// the dedup key. Chat and sender fields are snapshots taken at
// ingestion time.
type Message struct {
	ID                  int64          `db:"id"`
	Fingerprint         string         `db:"fingerprint"`
	MessageID           int64          `db:"message_id"`
	ChatID              int64          `db:"chat_id"`
	ChatTitle           sql.NullString `db:"chat_title"`
	ChatUsername        sql.NullString `db:"chat_username"`
	SenderID            sql.NullInt64  `db:"sender_id"`
	SenderUsername      sql.NullString `db:"sender_username"`
	SenderFirstName     sql.NullString `db:"sender_first_name"`
	SenderLastName      sql.NullString `db:"sender_last_name"`
	Text                string         `db:"text"`
	SentAt              time.Time      `db:"sent_at"`
	ReplyToMessageID    sql.NullInt64  `db:"reply_to_message_id"`
	ForwardedFromChatID sql.NullInt64  `db:"forwarded_from_chat_id"`
	MediaKind           sql.NullString `db:"media_kind"`
	IngestedAt          time.Time      `db:"ingested_at"`
}

// Storage manages all database operations.
type Storage struct {
	db *sqlx.DB
}

// New opens the SQLite database at the given path.
func New(path string) (*Storage, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY on concurrent inserts from the live driver.
	db.SetMaxOpenConns(1)

	return &Storage{db: db}, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// ApplyMigrations applies database migrations to the SQLite file.
func ApplyMigrations(dbPath, migrationsPath string) error {
	m, err := migrate.New(
		"file://"+migrationsPath,
		"sqlite://"+dbPath,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// UpsertUser inserts the user or refreshes its mutable fields,
// preserving first_seen_at.
func (s *Storage) UpsertUser(u *User) error {
	_, err := s.db.NamedExec(`
	INSERT INTO users (user_id, username, first_name, last_name, phone, is_bot, first_seen_at, last_updated_at)
	VALUES (:user_id, :username, :first_name, :last_name, :phone, :is_bot, :first_seen_at, :last_updated_at)
	ON CONFLICT (user_id) DO UPDATE SET
		username        = excluded.username,
		first_name      = excluded.first_name,
		last_name       = excluded.last_name,
		phone           = excluded.phone,
		is_bot          = excluded.is_bot,
		last_updated_at = excluded.last_updated_at`, u)
	return err
}

// UpsertChat inserts the chat or refreshes its mutable fields,
// preserving first_seen_at.
func (s *Storage) UpsertChat(c *Chat) error {
	_, err := s.db.NamedExec(`
	INSERT INTO chats (chat_id, title, username, chat_kind, member_count, description, invite_link, first_seen_at, last_updated_at)
	VALUES (:chat_id, :title, :username, :chat_kind, :member_count, :description, :invite_link, :first_seen_at, :last_updated_at)
	ON CONFLICT (chat_id) DO UPDATE SET
		title           = excluded.title,
		username        = excluded.username,
		chat_kind       = excluded.chat_kind,
		member_count    = excluded.member_count,
		description     = excluded.description,
		invite_link     = excluded.invite_link,
		last_updated_at = excluded.last_updated_at`, c)
	return err
}

// MessageExists reports whether a message with the given fingerprint is
// already stored.
func (s *Storage) MessageExists(fingerprint string) (bool, error) {
	var one int
	err := s.db.Get(&one, `SELECT 1 FROM messages WHERE fingerprint = ? LIMIT 1`, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertMessage stores the message and reports whether a new row was
// created. A fingerprint conflict is not an error: the insert is
// silently ignored and false is returned, which makes the unique
// constraint the backstop against concurrent double-insertion.
func (s *Storage) InsertMessage(m *Message) (bool, error) {
	res, err := s.db.NamedExec(`
	INSERT INTO messages (
		fingerprint, message_id, chat_id, chat_title, chat_username,
		sender_id, sender_username, sender_first_name, sender_last_name,
		text, sent_at, reply_to_message_id, forwarded_from_chat_id, media_kind, ingested_at
	) VALUES (
		:fingerprint, :message_id, :chat_id, :chat_title, :chat_username,
		:sender_id, :sender_username, :sender_first_name, :sender_last_name,
		:text, :sent_at, :reply_to_message_id, :forwarded_from_chat_id, :media_kind, :ingested_at
	) ON CONFLICT (fingerprint) DO NOTHING`, m)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
