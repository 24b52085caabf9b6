// Package memoryhost is the in-process channelhost.MessageHost. Single-node
// hosts and tests use it; multi-instance deployments use redishost.
package memoryhost

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/uibridge/uibridge-go/channelhost"
)

// Host is an in-memory channelhost.MessageHost.
type Host struct {
	mu       sync.Mutex
	channels map[string]*channelData
	counter  atomic.Int64
}

var _ channelhost.MessageHost = (*Host)(nil)

type channelData struct {
	mu       sync.Mutex
	cond     *sync.Cond
	messages []message
	closed   bool
}

type message struct {
	id   string
	data []byte
}

// New builds an empty host.
func New() *Host {
	return &Host{channels: make(map[string]*channelData)}
}

func (h *Host) channel(channelID string) *channelData {
	h.mu.Lock()
	defer h.mu.Unlock()
	cd, ok := h.channels[channelID]
	if !ok {
		cd = &channelData{}
		cd.cond = sync.NewCond(&cd.mu)
		h.channels[channelID] = cd
	}
	return cd
}

// Publish implements channelhost.MessageHost.
func (h *Host) Publish(ctx context.Context, channelID string, data []byte) (string, error) {
	eventID := strconv.FormatInt(h.counter.Add(1), 10)
	cd := h.channel(channelID)

	cd.mu.Lock()
	if cd.closed {
		cd.mu.Unlock()
		return "", fmt.Errorf("channel %s cleaned up", channelID)
	}
	cd.messages = append(cd.messages, message{id: eventID, data: append([]byte(nil), data...)})
	cd.mu.Unlock()
	cd.cond.Broadcast()

	return eventID, nil
}

// Subscribe implements channelhost.MessageHost. Delivery runs on the calling
// goroutine, so messages reach the handler strictly in publish order.
func (h *Host) Subscribe(ctx context.Context, channelID string, lastEventID string, handler channelhost.HandlerFunc) error {
	cd := h.channel(channelID)

	cd.mu.Lock()
	next := len(cd.messages)
	if lastEventID != "" {
		found := false
		for i := range cd.messages {
			if cd.messages[i].id == lastEventID {
				next = i + 1
				found = true
				break
			}
		}
		if !found {
			cd.mu.Unlock()
			return channelhost.ErrUnknownEventID
		}
	}
	cd.mu.Unlock()

	// Wake the cond wait when the caller gives up.
	stop := context.AfterFunc(ctx, cd.cond.Broadcast)
	defer stop()

	for {
		cd.mu.Lock()
		for next >= len(cd.messages) && !cd.closed && ctx.Err() == nil {
			cd.cond.Wait()
		}
		if ctx.Err() != nil {
			cd.mu.Unlock()
			return ctx.Err()
		}
		if cd.closed {
			cd.mu.Unlock()
			return nil
		}
		batch := make([]message, len(cd.messages)-next)
		copy(batch, cd.messages[next:])
		next = len(cd.messages)
		cd.mu.Unlock()

		for _, m := range batch {
			if err := handler(ctx, m.id, m.data); err != nil {
				return err
			}
		}
	}
}

// Cleanup implements channelhost.MessageHost.
func (h *Host) Cleanup(ctx context.Context, channelID string) error {
	h.mu.Lock()
	cd, ok := h.channels[channelID]
	if ok {
		delete(h.channels, channelID)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}

	cd.mu.Lock()
	cd.closed = true
	cd.mu.Unlock()
	cd.cond.Broadcast()
	return nil
}
