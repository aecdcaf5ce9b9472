package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"crawler/pkg/config"
	"crawler/pkg/storage"
	"crawler/pkg/telegram"
)

// Store is the storage surface the crawler writes through.
type Store interface {
	UpsertUser(u *storage.User) error
	UpsertChat(c *storage.Chat) error
	MessageExists(fingerprint string) (bool, error)
	InsertMessage(m *storage.Message) (bool, error)
	Stats() (*storage.Stats, error)
}

// Telegram is the transport surface the crawler reads from.
type Telegram interface {
	Dialogs(ctx context.Context) ([]telegram.Dialog, error)
	History(ctx context.Context, peer tg.InputPeerClass, limit int, fn func(*tg.Message) error) error
	ResolveUser(ctx context.Context, userID int64) (*tg.User, error)
	ResolveChat(ctx context.Context, peer tg.PeerClass) (tg.ChatClass, error)
	InviteLink(ctx context.Context, chat tg.ChatClass) (string, error)
	OnNewMessage(handler telegram.MessageHandler)
}

// Crawler runs the two-phase ingestion lifecycle: a historical backfill
// over all visible group and channel dialogs, then live monitoring of
// new messages until cancellation.
type Crawler struct {
	tg       Telegram
	store    Store
	norm     *Normalizer
	pipeline *Pipeline
	log      *zap.Logger

	perChat   int
	chatDelay time.Duration
}

// New wires the crawler with its normalizer and ingestion pipeline.
func New(tgc Telegram, store Store, log *zap.Logger, cfg *config.CrawlerConfig) *Crawler {
	norm := NewNormalizer(store, tgc, cfg.UserCacheTTLDuration, log)
	return &Crawler{
		tg:        tgc,
		store:     store,
		norm:      norm,
		pipeline:  NewPipeline(store, tgc, norm, log),
		log:       log,
		perChat:   cfg.MessagesPerChat,
		chatDelay: cfg.ChatDelayDuration,
	}
}

// Run executes the backfill phase and then blocks in live monitoring
// until the context is cancelled.
func (c *Crawler) Run(ctx context.Context) error {
	total, err := c.Backfill(ctx)
	if err != nil {
		return err
	}
	c.log.Info("Backfill finished", zap.Int("new_messages", total))

	if stats, err := c.store.Stats(); err != nil {
		c.log.Warn("Failed to compute stats snapshot", zap.Error(err))
	} else {
		c.log.Info("Dataset snapshot",
			zap.Int64("total_messages", stats.TotalMessages),
			zap.Int64("total_chats", stats.TotalChats),
			zap.Int64("total_users", stats.TotalUsers),
			zap.Int64("today_messages", stats.TodayMessages))
	}

	c.Monitor(ctx)
	return ctx.Err()
}

// Backfill pages the history of every group and channel dialog through
// the ingestion pipeline and returns the number of newly stored
// messages. A failure in one chat is logged and does not stop the
// remaining chats.
func (c *Crawler) Backfill(ctx context.Context) (int, error) {
	dialogs, err := c.tg.Dialogs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list dialogs: %w", err)
	}
	c.log.Info("Found group and channel dialogs", zap.Int("count", len(dialogs)))

	total := 0
	for i, dlg := range dialogs {
		c.log.Info("Processing chat",
			zap.Int("index", i+1),
			zap.Int("total", len(dialogs)),
			zap.Int64("chat_id", dialogChatID(dlg.Chat)))

		n, err := c.backfillChat(ctx, dlg)
		total += n
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			c.log.Error("Backfill failed for chat", zap.Error(err))
		}

		// Fixed pacing between chats to stay under upstream rate limits.
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(c.chatDelay):
		}
	}

	return total, nil
}

func (c *Crawler) backfillChat(ctx context.Context, dlg telegram.Dialog) (int, error) {
	chatRow, err := c.norm.Chat(ctx, dlg.Chat)
	if err != nil {
		return 0, err
	}
	c.log.Info("Crawling chat history",
		zap.String("title", chatRow.Title.String),
		zap.Int("limit", c.perChat))

	count := 0
	err = c.tg.History(ctx, dlg.Peer, c.perChat, func(msg *tg.Message) error {
		inserted, err := c.pipeline.Ingest(ctx, msg, chatRow)
		if err != nil {
			c.log.Error("Failed to ingest message",
				zap.Int("message_id", msg.ID),
				zap.Int64("chat_id", chatRow.ChatID),
				zap.Error(err))
			return nil
		}
		if inserted {
			count++
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("history paging for chat %d: %w", chatRow.ChatID, err)
	}

	c.log.Info("Chat backfill done",
		zap.String("title", chatRow.Title.String),
		zap.Int("new_messages", count))
	return count, nil
}

// Monitor subscribes to live messages and routes group and channel
// messages with text through the ingestion pipeline, forcing full chat
// resolution. It blocks until the context is cancelled.
func (c *Crawler) Monitor(ctx context.Context) {
	c.tg.OnNewMessage(func(handlerCtx context.Context, msg *tg.Message) {
		if msg.Message == "" || !telegram.IsGroupOrChannel(msg.PeerID) {
			return
		}
		inserted, err := c.pipeline.Ingest(handlerCtx, msg, nil)
		if err != nil {
			c.log.Error("Failed to ingest live message",
				zap.Int("message_id", msg.ID),
				zap.Error(err))
			return
		}
		if inserted {
			c.log.Info("Live message stored",
				zap.Int("message_id", msg.ID),
				zap.Int64("chat_id", telegram.PeerID(msg.PeerID)))
		}
	})

	c.log.Info("Live monitoring started")
	<-ctx.Done()
	c.log.Info("Live monitoring stopped")
}

func dialogChatID(chat tg.ChatClass) int64 {
	switch ch := chat.(type) {
	case *tg.Chat:
		return ch.ID
	case *tg.Channel:
		return ch.ID
	default:
		return 0
	}
}
