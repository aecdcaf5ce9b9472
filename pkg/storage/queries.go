package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChatActivity is one entry of the most-active-chats ranking.
type ChatActivity struct {
	ChatTitle    string `db:"chat_title" json:"chat_title"`
	MessageCount int64  `db:"message_count" json:"message_count"`
}

// Stats is the aggregate snapshot over the collected data.
type Stats struct {
	TotalMessages int64          `json:"total_messages"`
	TotalChats    int64          `json:"total_chats"`
	TotalUsers    int64          `json:"total_users"`
	TodayMessages int64          `json:"today_messages"`
	TopChats      []ChatActivity `json:"most_active_chats"`
}

// Stats computes the statistics snapshot.
func (s *Storage) Stats() (*Stats, error) {
	var stats Stats

	counts := []struct {
		query string
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM messages`, &stats.TotalMessages},
		{`SELECT COUNT(*) FROM chats`, &stats.TotalChats},
		{`SELECT COUNT(*) FROM users`, &stats.TotalUsers},
		{`SELECT COUNT(*) FROM messages WHERE DATE(ingested_at) = DATE('now')`, &stats.TodayMessages},
	}
	for _, c := range counts {
		if err := s.db.Get(c.dst, c.query); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	err := s.db.Select(&stats.TopChats, `
	SELECT COALESCE(chat_title, '') AS chat_title, COUNT(*) AS message_count
	FROM messages
	GROUP BY chat_id, chat_title
	ORDER BY message_count DESC
	LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("failed to rank chats: %w", err)
	}

	return &stats, nil
}

// SearchResult is a message enriched with the current chat title and
// sender username from the normalized tables.
type SearchResult struct {
	Fingerprint    string    `db:"fingerprint" json:"fingerprint"`
	MessageID      int64     `db:"message_id" json:"message_id"`
	ChatID         int64     `db:"chat_id" json:"chat_id"`
	ChatTitle      string    `db:"chat_title" json:"chat_title"`
	SenderID       int64     `db:"sender_id" json:"sender_id,omitempty"`
	SenderUsername string    `db:"sender_username" json:"sender_username,omitempty"`
	Text           string    `db:"text" json:"text"`
	SentAt         time.Time `db:"sent_at" json:"sent_at"`
}

// Search finds messages whose text contains the query substring,
// optionally restricted to chats whose title contains chatTitle,
// newest first.
func (s *Storage) Search(query, chatTitle string, limit int) ([]SearchResult, error) {
	q := `
	SELECT m.fingerprint, m.message_id, m.chat_id,
	       COALESCE(c.title, '') AS chat_title,
	       COALESCE(m.sender_id, 0) AS sender_id,
	       COALESCE(u.username, '') AS sender_username,
	       m.text, m.sent_at
	FROM messages m
	LEFT JOIN chats c ON m.chat_id = c.chat_id
	LEFT JOIN users u ON m.sender_id = u.user_id
	WHERE m.text LIKE ?`
	args := []any{"%" + query + "%"}

	if chatTitle != "" {
		q += ` AND c.title LIKE ?`
		args = append(args, "%"+chatTitle+"%")
	}
	q += ` ORDER BY m.sent_at DESC LIMIT ?`
	args = append(args, limit)

	results := []SearchResult{}
	if err := s.db.Select(&results, q, args...); err != nil {
		return nil, err
	}
	return results, nil
}

// ExportedMessage is one flattened record of the export document.
type ExportedMessage struct {
	Fingerprint    string    `json:"hash"`
	MessageID      int64     `json:"message_id"`
	ChatID         int64     `json:"chat_id"`
	ChatTitle      string    `json:"chat_title,omitempty"`
	ChatUsername   string    `json:"chat_username,omitempty"`
	SenderID       *int64    `json:"sender_id,omitempty"`
	SenderUsername string    `json:"sender_username,omitempty"`
	SenderName     string    `json:"sender_name,omitempty"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"date"`
	IngestedAt     time.Time `json:"created_at"`
}

// Export is the full-dataset JSON document.
type Export struct {
	ExportDate    time.Time         `json:"export_date"`
	TotalMessages int               `json:"total_messages"`
	Messages      []ExportedMessage `json:"messages"`
}

// Export scans the whole dataset, newest first, joined with the
// normalized chat and user tables.
func (s *Storage) Export() (*Export, error) {
	rows := []struct {
		Fingerprint     string         `db:"fingerprint"`
		MessageID       int64          `db:"message_id"`
		ChatID          int64          `db:"chat_id"`
		ChatTitle       sql.NullString `db:"chat_title"`
		ChatUsername    sql.NullString `db:"chat_username"`
		SenderID        sql.NullInt64  `db:"sender_id"`
		SenderUsername  sql.NullString `db:"sender_username"`
		SenderFirstName sql.NullString `db:"sender_first_name"`
		SenderLastName  sql.NullString `db:"sender_last_name"`
		Text            string         `db:"text"`
		SentAt          time.Time      `db:"sent_at"`
		IngestedAt      time.Time      `db:"ingested_at"`
	}{}

	err := s.db.Select(&rows, `
	SELECT m.fingerprint, m.message_id, m.chat_id,
	       c.title AS chat_title, c.username AS chat_username,
	       m.sender_id, u.username AS sender_username,
	       u.first_name AS sender_first_name, u.last_name AS sender_last_name,
	       m.text, m.sent_at, m.ingested_at
	FROM messages m
	LEFT JOIN chats c ON m.chat_id = c.chat_id
	LEFT JOIN users u ON m.sender_id = u.user_id
	ORDER BY m.sent_at DESC`)
	if err != nil {
		return nil, err
	}

	export := &Export{
		ExportDate:    time.Now(),
		TotalMessages: len(rows),
		Messages:      make([]ExportedMessage, 0, len(rows)),
	}
	for _, r := range rows {
		msg := ExportedMessage{
			Fingerprint:    r.Fingerprint,
			MessageID:      r.MessageID,
			ChatID:         r.ChatID,
			ChatTitle:      r.ChatTitle.String,
			ChatUsername:   r.ChatUsername.String,
			SenderUsername: r.SenderUsername.String,
			SenderName:     joinName(r.SenderFirstName.String, r.SenderLastName.String),
			Text:           r.Text,
			SentAt:         r.SentAt,
			IngestedAt:     r.IngestedAt,
		}
		if r.SenderID.Valid {
			id := r.SenderID.Int64
			msg.SenderID = &id
		}
		export.Messages = append(export.Messages, msg)
	}

	return export, nil
}

// ChatSummary is a JSON-friendly view of a stored chat row.
type ChatSummary struct {
	ChatID      int64  `db:"chat_id" json:"chat_id"`
	Title       string `db:"title" json:"title"`
	Username    string `db:"username" json:"username,omitempty"`
	ChatKind    string `db:"chat_kind" json:"chat_kind"`
	MemberCount int64  `db:"member_count" json:"member_count"`
	InviteLink  string `db:"invite_link" json:"invite_link,omitempty"`
}

// Chats returns all stored chats ordered by title.
func (s *Storage) Chats() ([]ChatSummary, error) {
	chats := []ChatSummary{}
	err := s.db.Select(&chats, `
	SELECT chat_id, COALESCE(title, '') AS title, COALESCE(username, '') AS username,
	       chat_kind, COALESCE(member_count, 0) AS member_count, COALESCE(invite_link, '') AS invite_link
	FROM chats ORDER BY title`)
	if err != nil {
		return nil, err
	}
	return chats, nil
}

// Contact is the contact card derived from a stored user row.
type Contact struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username,omitempty"`
	FullName     string `json:"full_name"`
	Phone        string `json:"phone,omitempty"`
	TelegramLink string `json:"telegram_link"`
}

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("not found")

// Contact builds the contact card for a stored user.
func (s *Storage) Contact(userID int64) (*Contact, error) {
	var u User
	err := s.db.Get(&u, `SELECT * FROM users WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c := &Contact{
		UserID:       u.UserID,
		FullName:     joinName(u.FirstName.String, u.LastName.String),
		Phone:        u.Phone.String,
		TelegramLink: fmt.Sprintf("tg://user?id=%d", u.UserID),
	}
	if u.Username.Valid {
		c.Username = "@" + u.Username.String
	}
	return c, nil
}

func joinName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}
