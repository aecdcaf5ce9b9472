package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"crawler/pkg/config"
)

// Dialog is one group or channel conversation visible to the account,
// with the input peer needed to page its history.
type Dialog struct {
	Peer tg.InputPeerClass
	Chat tg.ChatClass
}

// MessageHandler receives live messages from the update dispatcher.
type MessageHandler func(ctx context.Context, msg *tg.Message)

// Client encapsulates the Telegram MTProto client.
type Client struct {
	*telegram.Client
	api        *tg.Client
	dispatcher tg.UpdateDispatcher
	log        *zap.Logger

	AuthCode      chan string   // receives the login code from the HTTP API
	AuthCompleted chan struct{} // closed once authentication finished

	// MTProto entities carry access hashes, so users and chats can only
	// be addressed after they were seen in some API response. Every
	// response is absorbed into these maps; a lookup miss means the
	// entity was never part of any dialog, history page or update.
	mu    sync.Mutex
	users map[int64]*tg.User
	chats map[int64]tg.ChatClass
}

// New creates and initializes a new Telegram client.
func New(cfg *config.TelegramConfig, log *zap.Logger) *Client {
	dispatcher := tg.NewUpdateDispatcher()

	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		Logger:         log.Named("mtproto"),
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
		UpdateHandler:  dispatcher,
	})

	return &Client{
		Client:        client,
		api:           client.API(),
		dispatcher:    dispatcher,
		log:           log,
		AuthCode:      make(chan string),
		AuthCompleted: make(chan struct{}),
		users:         make(map[int64]*tg.User),
		chats:         make(map[int64]tg.ChatClass),
	}
}

// Run starts the Telegram client and handles authentication. It blocks
// until the context is cancelled or the connection is lost.
func (c *Client) Run(ctx context.Context, phone string) error {
	return c.Client.Run(ctx, func(ctx context.Context) error {
		if err := c.authenticate(ctx, phone); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		c.log.Info("Telegram client started and authenticated")
		close(c.AuthCompleted)

		<-ctx.Done()
		return ctx.Err()
	})
}

func (c *Client) authenticate(ctx context.Context, phone string) error {
	flow := auth.NewFlow(
		auth.Constant(phone, "", auth.CodeAuthenticatorFunc(func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
			c.log.Info("Waiting for authentication code via API...")
			select {
			case code := <-c.AuthCode:
				return strings.TrimSpace(code), nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})),
		auth.SendCodeOptions{},
	)

	return flow.Run(ctx, c.Client.Auth())
}

// Self returns the logged-in account.
func (c *Client) Self(ctx context.Context) (*tg.User, error) {
	return c.Client.Self(ctx)
}

// Dialogs enumerates the account's dialog list and returns the group
// and channel conversations. Private 1:1 dialogs are skipped.
func (c *Client) Dialogs(ctx context.Context) ([]Dialog, error) {
	var out []Dialog

	req := &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	}
	for {
		resp, err := c.api.MessagesGetDialogs(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to get dialogs: %w", err)
		}

		var (
			dialogs  []tg.DialogClass
			messages []tg.MessageClass
			lastPage bool
		)
		switch d := resp.(type) {
		case *tg.MessagesDialogs:
			c.absorb(d.Users, d.Chats)
			dialogs, messages = d.Dialogs, d.Messages
			lastPage = true
		case *tg.MessagesDialogsSlice:
			c.absorb(d.Users, d.Chats)
			dialogs, messages = d.Dialogs, d.Messages
		default:
			return nil, fmt.Errorf("unexpected dialogs response %T", resp)
		}

		for _, dc := range dialogs {
			dlg, ok := dc.(*tg.Dialog)
			if !ok {
				continue
			}
			switch dlg.Peer.(type) {
			case *tg.PeerChat, *tg.PeerChannel:
			default:
				continue
			}
			chat, err := c.ResolveChat(ctx, dlg.Peer)
			if err != nil {
				c.log.Warn("Dialog references unknown chat", zap.Error(err))
				continue
			}
			peer, err := c.inputPeer(dlg.Peer)
			if err != nil {
				c.log.Warn("Cannot build input peer for dialog", zap.Error(err))
				continue
			}
			out = append(out, Dialog{Peer: peer, Chat: chat})
		}

		if lastPage || len(dialogs) < req.Limit {
			return out, nil
		}

		last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
		if !ok {
			return out, nil
		}
		req.OffsetID = last.TopMessage
		req.OffsetDate = messageDate(messages, last.TopMessage)
		if peer, err := c.inputPeer(last.Peer); err == nil {
			req.OffsetPeer = peer
		}
	}
}

// History pages through a conversation's message history, newest first,
// calling fn for each concrete message until limit entries were walked
// or the start of history is reached.
func (c *Client) History(ctx context.Context, peer tg.InputPeerClass, limit int, fn func(*tg.Message) error) error {
	req := &tg.MessagesGetHistoryRequest{Peer: peer}

	walked := 0
	for walked < limit {
		req.Limit = min(100, limit-walked)

		resp, err := c.api.MessagesGetHistory(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to get history: %w", err)
		}

		var messages []tg.MessageClass
		switch h := resp.(type) {
		case *tg.MessagesMessages:
			c.absorb(h.Users, h.Chats)
			messages = h.Messages
		case *tg.MessagesMessagesSlice:
			c.absorb(h.Users, h.Chats)
			messages = h.Messages
		case *tg.MessagesChannelMessages:
			c.absorb(h.Users, h.Chats)
			messages = h.Messages
		default:
			return fmt.Errorf("unexpected history response %T", resp)
		}

		if len(messages) == 0 {
			return nil
		}

		for _, mc := range messages {
			if msg, ok := mc.(*tg.Message); ok {
				if err := fn(msg); err != nil {
					return err
				}
			}
			walked++
			req.OffsetID = mc.GetID()
		}

		if len(messages) < req.Limit {
			return nil
		}
	}
	return nil
}

// ResolveUser returns the user entity if it was seen in any API
// response. A miss is a recoverable resolution failure for the caller.
func (c *Client) ResolveUser(ctx context.Context, userID int64) (*tg.User, error) {
	c.mu.Lock()
	u, ok := c.users[userID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("user %d not seen in any response", userID)
	}
	return u, nil
}

// ResolveChat returns the chat entity behind the given peer.
func (c *Client) ResolveChat(ctx context.Context, peer tg.PeerClass) (tg.ChatClass, error) {
	id := PeerID(peer)

	c.mu.Lock()
	chat, ok := c.chats[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("chat %d not seen in any response", id)
	}
	return chat, nil
}

// InviteLink asks Telegram for an exported invite link. This commonly
// fails with a permission error for chats the account does not admin;
// callers treat any failure as "no link".
func (c *Client) InviteLink(ctx context.Context, chat tg.ChatClass) (string, error) {
	peer, err := c.chatInputPeer(chat)
	if err != nil {
		return "", err
	}

	invite, err := c.api.MessagesExportChatInvite(ctx, &tg.MessagesExportChatInviteRequest{Peer: peer})
	if err != nil {
		return "", fmt.Errorf("failed to export invite: %w", err)
	}
	exported, ok := invite.(*tg.ChatInviteExported)
	if !ok {
		return "", fmt.Errorf("unexpected invite response %T", invite)
	}
	return exported.Link, nil
}

// OnNewMessage routes both plain and channel message updates to the
// handler. Entities delivered with the update are absorbed first so
// sender and chat resolution can succeed for them.
func (c *Client) OnNewMessage(handler MessageHandler) {
	c.dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
		c.absorbEntities(e)
		if msg, ok := update.Message.(*tg.Message); ok {
			handler(ctx, msg)
		}
		return nil
	})
	c.dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
		c.absorbEntities(e)
		if msg, ok := update.Message.(*tg.Message); ok {
			handler(ctx, msg)
		}
		return nil
	})
}

func (c *Client) absorb(users []tg.UserClass, chats []tg.ChatClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, uc := range users {
		if u, ok := uc.(*tg.User); ok {
			c.users[u.ID] = u
		}
	}
	for _, cc := range chats {
		switch chat := cc.(type) {
		case *tg.Chat, *tg.Channel:
			c.chats[chatID(chat)] = chat
		}
	}
}

func (c *Client) absorbEntities(e tg.Entities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, u := range e.Users {
		c.users[id] = u
	}
	for id, chat := range e.Chats {
		c.chats[id] = chat
	}
	for id, channel := range e.Channels {
		c.chats[id] = channel
	}
}

func (c *Client) inputPeer(peer tg.PeerClass) (tg.InputPeerClass, error) {
	switch p := peer.(type) {
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}, nil
	case *tg.PeerChannel:
		c.mu.Lock()
		chat, ok := c.chats[p.ChannelID]
		c.mu.Unlock()
		channel, isChannel := chat.(*tg.Channel)
		if !ok || !isChannel {
			return nil, fmt.Errorf("no access hash for channel %d", p.ChannelID)
		}
		return &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}, nil
	case *tg.PeerUser:
		c.mu.Lock()
		u, ok := c.users[p.UserID]
		c.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("no access hash for user %d", p.UserID)
		}
		return &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}, nil
	default:
		return nil, fmt.Errorf("unsupported peer %T", peer)
	}
}

func (c *Client) chatInputPeer(chat tg.ChatClass) (tg.InputPeerClass, error) {
	switch ch := chat.(type) {
	case *tg.Chat:
		return &tg.InputPeerChat{ChatID: ch.ID}, nil
	case *tg.Channel:
		return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
	default:
		return nil, fmt.Errorf("unsupported chat %T", chat)
	}
}

// PeerID collapses a peer reference to the bare conversation id, so the
// same conversation yields the same id on every ingestion path.
func PeerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	default:
		return 0
	}
}

// IsGroupOrChannel reports whether the peer is a group or channel
// conversation rather than a private 1:1 dialog.
func IsGroupOrChannel(peer tg.PeerClass) bool {
	switch peer.(type) {
	case *tg.PeerChat, *tg.PeerChannel:
		return true
	default:
		return false
	}
}

func chatID(chat tg.ChatClass) int64 {
	switch ch := chat.(type) {
	case *tg.Chat:
		return ch.ID
	case *tg.Channel:
		return ch.ID
	default:
		return 0
	}
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, mc := range messages {
		if msg, ok := mc.(*tg.Message); ok && msg.ID == id {
			return msg.Date
		}
	}
	return 0
}
