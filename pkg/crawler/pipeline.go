package crawler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"crawler/pkg/storage"
	"crawler/pkg/telegram"
)

// Pipeline is the deduplicated ingestion path shared by the backfill
// and live drivers.
type Pipeline struct {
	store Store
	tg    Telegram
	norm  *Normalizer
	log   *zap.Logger
}

// NewPipeline creates the ingestion pipeline.
func NewPipeline(store Store, tgc Telegram, norm *Normalizer, log *zap.Logger) *Pipeline {
	return &Pipeline{store: store, tg: tgc, norm: norm, log: log}
}

// Ingest persists the message if it is new and reports whether a row
// was created. Messages without text are skipped. chatCtx, when
// supplied by the backfill driver, provides the chat snapshot without a
// resolution round trip; when nil the chat is resolved, falling back to
// a placeholder context on failure. Sender resolution failure leaves
// the sender snapshot fields empty but does not block the insert.
func (p *Pipeline) Ingest(ctx context.Context, msg *tg.Message, chatCtx *storage.Chat) (bool, error) {
	if msg == nil || msg.Message == "" {
		return false, nil
	}

	chatID := telegram.PeerID(msg.PeerID)
	fingerprint := Fingerprint(msg.ID, chatID, msg.Message)

	exists, err := p.store.MessageExists(fingerprint)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	if exists {
		p.log.Debug("Message already stored", zap.String("fingerprint", fingerprint[:8]))
		return false, nil
	}

	row := &storage.Message{
		Fingerprint: fingerprint,
		MessageID:   int64(msg.ID),
		ChatID:      chatID,
		Text:        msg.Message,
		SentAt:      time.Unix(int64(msg.Date), 0),
		IngestedAt:  time.Now(),
	}

	if from, ok := msg.FromID.(*tg.PeerUser); ok {
		row.SenderID = sql.NullInt64{Int64: from.UserID, Valid: true}

		sender, err := p.tg.ResolveUser(ctx, from.UserID)
		if err == nil {
			var senderRow *storage.User
			if senderRow, err = p.norm.User(ctx, sender); err == nil && senderRow != nil {
				row.SenderUsername = senderRow.Username
				row.SenderFirstName = senderRow.FirstName
				row.SenderLastName = senderRow.LastName
			}
		}
		if err != nil {
			p.log.Warn("Failed to resolve sender",
				zap.Int64("sender_id", from.UserID),
				zap.Error(err))
		}
	}

	if chatCtx == nil {
		chat, err := p.tg.ResolveChat(ctx, msg.PeerID)
		if err == nil {
			chatCtx, err = p.norm.Chat(ctx, chat)
		}
		if err != nil {
			p.log.Warn("Failed to resolve chat",
				zap.Int64("chat_id", chatID),
				zap.Error(err))
			chatCtx = &storage.Chat{Title: nullString("Unknown")}
		}
	}
	row.ChatTitle = chatCtx.Title
	row.ChatUsername = chatCtx.Username

	if header, ok := msg.GetReplyTo(); ok {
		if reply, ok := header.(*tg.MessageReplyHeader); ok {
			if id, ok := reply.GetReplyToMsgID(); ok {
				row.ReplyToMessageID = sql.NullInt64{Int64: int64(id), Valid: true}
			}
		}
	}
	if fwd, ok := msg.GetFwdFrom(); ok {
		if from, ok := fwd.GetFromID(); ok {
			row.ForwardedFromChatID = sql.NullInt64{Int64: telegram.PeerID(from), Valid: true}
		}
	}
	if media, ok := msg.GetMedia(); ok {
		row.MediaKind = nullString(media.TypeName())
	}

	inserted, err := p.store.InsertMessage(row)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	if inserted {
		p.log.Info("New message stored",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", msg.ID))
	}
	return inserted, nil
}
