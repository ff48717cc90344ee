package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrChannelGone is the transport's permanent-gone signal. A Send returning
// an error that matches it proves the channel reference stale; the
// broadcaster then requests clearing so future pushes stop retrying it.
// Any other Send error is a transient delivery failure.
var ErrChannelGone = errors.New("channel permanently gone")

// Channel is an addressable, push-capable live connection associated with a
// submitting client. The transport owns the connection lifecycle; the queue
// holds only a lookup reference and never closes channels itself.
type Channel interface {
	// Send pushes a payload to the connected client. Returns an error
	// matching ErrChannelGone if the endpoint no longer exists.
	Send(ctx context.Context, payload any) error
}

// channelRegistry tracks the push channel currently associated with each
// queue entry. An entry has zero or one channel at a time; absence is a
// normal state (client disconnected). Mutated only through the coordinator
// to preserve single-writer discipline.
type channelRegistry struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]Channel
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{
		channels: make(map[uuid.UUID]Channel),
	}
}

// attach associates ch with the entry, replacing any previous channel.
func (r *channelRegistry) attach(id uuid.UUID, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[id] = ch
}

// detach clears the entry's channel only if it still refers to ch. The ref
// compare keeps a stale-channel report from clobbering a newer connection
// registered by a reconnecting client.
func (r *channelRegistry) detach(id uuid.UUID, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.channels[id]
	if !ok || current != ch {
		return false
	}
	delete(r.channels, id)
	return true
}

// get returns the entry's current channel, if any.
func (r *channelRegistry) get(id uuid.UUID) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}
