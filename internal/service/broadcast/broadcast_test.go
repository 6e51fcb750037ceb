package broadcast

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"rtchat/internal/model"
	"rtchat/internal/service/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) Close() error                              { return nil }

func (c *fakeConn) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.frames) >= n {
			out := append([][]byte(nil), c.frames...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames", n)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestNotifyAll(t *testing.T) {
	reg := registry.NewRegistry(time.Minute)
	d := NewDispatcher(reg)

	alice := &fakeConn{}
	bob := &fakeConn{}
	reg.Register("alice", alice)
	reg.Register("bob", bob)

	d.Notify(model.EventUserConnected, model.PresencePayload{UserID: "carol", Online: true}, nil)

	frames := alice.wait(t, 1)
	bob.wait(t, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frames[0], &decoded))
	assert.Equal(t, model.EventUserConnected, decoded["type"])
	assert.Equal(t, "carol", decoded["userId"])
}

func TestNotifyWithPredicate(t *testing.T) {
	reg := registry.NewRegistry(time.Minute)
	d := NewDispatcher(reg)

	alice := &fakeConn{}
	bob := &fakeConn{}
	reg.Register("alice", alice)
	reg.Register("bob", bob)

	d.Notify(model.EventCallAccepted,
		model.CallAnswerPayload{CallID: "c1", FromID: "alice"},
		ToUsers("alice"))

	alice.wait(t, 1)
	assert.Equal(t, 0, bob.count())
}

func TestNotifyUserOffline(t *testing.T) {
	reg := registry.NewRegistry(time.Minute)
	d := NewDispatcher(reg)

	ok := d.NotifyUser("ghost", model.EventCallRejected, model.CallAnswerPayload{CallID: "c1"})
	assert.False(t, ok)
}

func TestNotifyUserDelivers(t *testing.T) {
	reg := registry.NewRegistry(time.Minute)
	d := NewDispatcher(reg)

	conn := &fakeConn{}
	reg.Register("alice", conn)

	require.True(t, d.NotifyUser("alice", model.EventNewMessage, model.MessagePayload{
		ChatID: "chat-1",
		Body:   "hi",
	}))

	frames := conn.wait(t, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frames[0], &decoded))
	assert.Equal(t, model.EventNewMessage, decoded["type"])
	assert.Equal(t, "chat-1", decoded["chatId"])
}
