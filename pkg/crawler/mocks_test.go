package crawler

import (
	"context"
	"errors"
	"sync"

	"github.com/gotd/td/tg"

	"crawler/pkg/storage"
	"crawler/pkg/telegram"
)

// fakeStore is an in-memory Store double.
type fakeStore struct {
	mu          sync.Mutex
	users       map[int64]*storage.User
	chats       map[int64]*storage.Chat
	messages    map[string]*storage.Message
	userUpserts int
	chatUpserts int
	existsCalls int
	insertErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[int64]*storage.User),
		chats:    make(map[int64]*storage.Chat),
		messages: make(map[string]*storage.Message),
	}
}

func (f *fakeStore) UpsertUser(u *storage.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.users[u.UserID]; ok {
		u.FirstSeenAt = prev.FirstSeenAt
	}
	f.users[u.UserID] = u
	f.userUpserts++
	return nil
}

func (f *fakeStore) UpsertChat(c *storage.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.chats[c.ChatID]; ok {
		c.FirstSeenAt = prev.FirstSeenAt
	}
	f.chats[c.ChatID] = c
	f.chatUpserts++
	return nil
}

func (f *fakeStore) MessageExists(fingerprint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	_, ok := f.messages[fingerprint]
	return ok, nil
}

func (f *fakeStore) InsertMessage(m *storage.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, ok := f.messages[m.Fingerprint]; ok {
		return false, nil
	}
	f.messages[m.Fingerprint] = m
	return true, nil
}

func (f *fakeStore) Stats() (*storage.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &storage.Stats{
		TotalMessages: int64(len(f.messages)),
		TotalChats:    int64(len(f.chats)),
		TotalUsers:    int64(len(f.users)),
	}, nil
}

// fakeTelegram is a Telegram transport double.
type fakeTelegram struct {
	mu         sync.Mutex
	dialogs    []telegram.Dialog
	dialogsErr error
	history    map[int64][]*tg.Message // newest first, keyed by chat id
	historyErr map[int64]error
	users      map[int64]*tg.User
	userErr    error
	chats      map[int64]tg.ChatClass
	invite     string
	inviteErr  error
	handler    telegram.MessageHandler
}

func newFakeTelegram() *fakeTelegram {
	return &fakeTelegram{
		history:    make(map[int64][]*tg.Message),
		historyErr: make(map[int64]error),
		users:      make(map[int64]*tg.User),
		chats:      make(map[int64]tg.ChatClass),
		inviteErr:  errors.New("CHAT_ADMIN_REQUIRED"),
	}
}

func (f *fakeTelegram) Dialogs(ctx context.Context) ([]telegram.Dialog, error) {
	return f.dialogs, f.dialogsErr
}

func (f *fakeTelegram) History(ctx context.Context, peer tg.InputPeerClass, limit int, fn func(*tg.Message) error) error {
	id := inputPeerID(peer)
	if err := f.historyErr[id]; err != nil {
		return err
	}
	for i, msg := range f.history[id] {
		if i >= limit {
			break
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTelegram) ResolveUser(ctx context.Context, userID int64) (*tg.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, errors.New("user not seen")
	}
	return u, nil
}

func (f *fakeTelegram) ResolveChat(ctx context.Context, peer tg.PeerClass) (tg.ChatClass, error) {
	chat, ok := f.chats[telegram.PeerID(peer)]
	if !ok {
		return nil, errors.New("chat not seen")
	}
	return chat, nil
}

func (f *fakeTelegram) InviteLink(ctx context.Context, chat tg.ChatClass) (string, error) {
	return f.invite, f.inviteErr
}

func (f *fakeTelegram) OnNewMessage(handler telegram.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeTelegram) liveHandler() telegram.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func inputPeerID(peer tg.InputPeerClass) int64 {
	switch p := peer.(type) {
	case *tg.InputPeerChat:
		return p.ChatID
	case *tg.InputPeerChannel:
		return p.ChannelID
	case *tg.InputPeerUser:
		return p.UserID
	default:
		return 0
	}
}
