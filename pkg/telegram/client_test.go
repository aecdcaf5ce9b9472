package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
)

func TestPeerID(t *testing.T) {
	assert.Equal(t, int64(7), PeerID(&tg.PeerUser{UserID: 7}))
	assert.Equal(t, int64(100), PeerID(&tg.PeerChat{ChatID: 100}))
	assert.Equal(t, int64(200), PeerID(&tg.PeerChannel{ChannelID: 200}))
}

func TestIsGroupOrChannel(t *testing.T) {
	assert.True(t, IsGroupOrChannel(&tg.PeerChat{ChatID: 100}))
	assert.True(t, IsGroupOrChannel(&tg.PeerChannel{ChannelID: 200}))
	assert.False(t, IsGroupOrChannel(&tg.PeerUser{UserID: 7}))
}

func TestMessageDate(t *testing.T) {
	messages := []tg.MessageClass{
		&tg.MessageEmpty{ID: 1},
		&tg.Message{ID: 2, Date: 1700000000},
	}
	assert.Equal(t, 1700000000, messageDate(messages, 2))
	assert.Equal(t, 0, messageDate(messages, 1))
	assert.Equal(t, 0, messageDate(messages, 9))
}

func TestInputPeerFromCache(t *testing.T) {
	c := &Client{
		users: map[int64]*tg.User{7: {ID: 7, AccessHash: 111}},
		chats: map[int64]tg.ChatClass{
			100: &tg.Chat{ID: 100},
			200: &tg.Channel{ID: 200, AccessHash: 222},
		},
	}

	peer, err := c.inputPeer(&tg.PeerChat{ChatID: 100})
	assert.NoError(t, err)
	assert.Equal(t, &tg.InputPeerChat{ChatID: 100}, peer)

	peer, err = c.inputPeer(&tg.PeerChannel{ChannelID: 200})
	assert.NoError(t, err)
	assert.Equal(t, &tg.InputPeerChannel{ChannelID: 200, AccessHash: 222}, peer)

	peer, err = c.inputPeer(&tg.PeerUser{UserID: 7})
	assert.NoError(t, err)
	assert.Equal(t, &tg.InputPeerUser{UserID: 7, AccessHash: 111}, peer)

	_, err = c.inputPeer(&tg.PeerChannel{ChannelID: 999})
	assert.Error(t, err)
}
