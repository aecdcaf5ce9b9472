package crawler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"crawler/pkg/storage"
)

// Chat kinds stored in the chats table.
const (
	KindGroup        = "group"         // supergroup (megagroup channel)
	KindChannel      = "channel"       // broadcast channel
	KindPrivateGroup = "private-group" // basic (legacy) group
)

type cachedUser struct {
	row *storage.User
	at  time.Time
}

// Normalizer converts raw Telegram entities into stored rows. User rows
// are cached in-process for the configured TTL; a zero TTL keeps
// entries for the process lifetime.
type Normalizer struct {
	store Store
	tg    Telegram
	log   *zap.Logger
	ttl   time.Duration

	mu    sync.Mutex
	users map[int64]cachedUser
}

// NewNormalizer creates a Normalizer backed by the given store and
// transport.
func NewNormalizer(store Store, tgc Telegram, ttl time.Duration, log *zap.Logger) *Normalizer {
	return &Normalizer{
		store: store,
		tg:    tgc,
		log:   log,
		ttl:   ttl,
		users: make(map[int64]cachedUser),
	}
}

// User upserts a user row for the given entity and returns it. A cache
// hit within the TTL returns the cached row without touching the store.
// A nil or id-less entity yields a nil row with no error.
func (n *Normalizer) User(ctx context.Context, u *tg.User) (*storage.User, error) {
	if u == nil || u.ID == 0 {
		return nil, nil
	}

	n.mu.Lock()
	if entry, ok := n.users[u.ID]; ok && (n.ttl == 0 || time.Since(entry.at) < n.ttl) {
		n.mu.Unlock()
		return entry.row, nil
	}
	n.mu.Unlock()

	now := time.Now()
	row := &storage.User{
		UserID:        u.ID,
		Username:      nullString(u.Username),
		FirstName:     nullString(u.FirstName),
		LastName:      nullString(u.LastName),
		Phone:         nullString(u.Phone),
		IsBot:         u.Bot,
		FirstSeenAt:   now,
		LastUpdatedAt: now,
	}
	if err := n.store.UpsertUser(row); err != nil {
		return nil, fmt.Errorf("failed to upsert user %d: %w", u.ID, err)
	}

	n.mu.Lock()
	n.users[u.ID] = cachedUser{row: row, at: now}
	n.mu.Unlock()

	return row, nil
}

// Chat upserts a chat row for the given entity and returns it. The
// invite link comes from the public username when there is one;
// otherwise an export probe is attempted and any failure leaves the
// link empty.
func (n *Normalizer) Chat(ctx context.Context, chat tg.ChatClass) (*storage.Chat, error) {
	now := time.Now()
	row := &storage.Chat{FirstSeenAt: now, LastUpdatedAt: now}

	switch c := chat.(type) {
	case *tg.Chat:
		row.ChatID = c.ID
		row.Title = nullString(c.Title)
		row.ChatKind = KindPrivateGroup
		row.MemberCount = sql.NullInt64{Int64: int64(c.ParticipantsCount), Valid: true}
	case *tg.Channel:
		row.ChatID = c.ID
		row.Title = nullString(c.Title)
		row.Username = nullString(c.Username)
		if c.Broadcast {
			row.ChatKind = KindChannel
		} else {
			row.ChatKind = KindGroup
		}
		if count, ok := c.GetParticipantsCount(); ok {
			row.MemberCount = sql.NullInt64{Int64: int64(count), Valid: true}
		}
	default:
		return nil, fmt.Errorf("unsupported chat entity %T", chat)
	}

	if row.Username.Valid {
		row.InviteLink = nullString("https://t.me/" + row.Username.String)
	} else if link, err := n.tg.InviteLink(ctx, chat); err != nil {
		// Commonly denied for chats the account does not admin.
		n.log.Debug("Invite link probe failed",
			zap.Int64("chat_id", row.ChatID),
			zap.Error(err))
	} else {
		row.InviteLink = nullString(link)
	}

	if err := n.store.UpsertChat(row); err != nil {
		return nil, fmt.Errorf("failed to upsert chat %d: %w", row.ChatID, err)
	}
	return row, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
