package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelvault/pixelvault-api/internal/metrics"
	"github.com/pixelvault/pixelvault-api/internal/queue"
)

// ChannelSource is the slice of the coordinator the broadcaster consumes:
// channel lookup plus a way to request clearing of a stale reference. The
// broadcaster never mutates the registry directly; the coordinator stays
// the single writer.
type ChannelSource interface {
	ChannelFor(queueID uuid.UUID) (queue.Channel, bool)
	DetachChannel(queueID uuid.UUID, ch queue.Channel)
}

// Broadcaster fans out queue state notifications over live channels.
type Broadcaster struct {
	channels    ChannelSource
	metrics     metrics.Recorder
	logger      *slog.Logger
	sendTimeout time.Duration
}

// NewBroadcaster creates a new Broadcaster.
// If logger is nil, a default logger will be used.
func NewBroadcaster(channels ChannelSource, rec metrics.Recorder, logger *slog.Logger) (*Broadcaster, error) {
	if channels == nil {
		return nil, errors.New("channel source cannot be nil")
	}
	if rec == nil {
		rec = metrics.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Broadcaster{
		channels:    channels,
		metrics:     rec,
		logger:      logger.With("component", "notification_broadcaster"),
		sendTimeout: 5 * time.Second,
	}, nil
}

// Notify pushes a single notification to the entry's channel. A missing
// channel is a silent no-op: disconnected clients are expected and pick the
// state back up through the query endpoint or on reconnect.
func (b *Broadcaster) Notify(ctx context.Context, n Notification) {
	ch, ok := b.channels.ChannelFor(n.QueueID)
	if !ok {
		b.metrics.RecordNotification(metrics.DeliverySkipped)
		return
	}

	b.deliver(ctx, ch, n)
}

// NotifyMany pushes one notification per entry concurrently. Failures are
// isolated per channel: a single slow or dead channel delays or fails only
// its own delivery, never the batch.
func (b *Broadcaster) NotifyMany(ctx context.Context, notifications []Notification) {
	var wg sync.WaitGroup
	for _, n := range notifications {
		ch, ok := b.channels.ChannelFor(n.QueueID)
		if !ok {
			b.metrics.RecordNotification(metrics.DeliverySkipped)
			continue
		}

		wg.Add(1)
		go func(ch queue.Channel, n Notification) {
			defer wg.Done()
			b.deliver(ctx, ch, n)
		}(ch, n)
	}
	wg.Wait()
}

// deliver performs one best-effort push. A permanent-gone failure requests
// clearing of the channel reference through the coordinator; any other
// failure is logged and otherwise ignored since the next periodic load
// broadcast refreshes state once the client re-subscribes.
func (b *Broadcaster) deliver(ctx context.Context, ch queue.Channel, n Notification) {
	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()

	err := ch.Send(sendCtx, n)
	if err == nil {
		b.metrics.RecordNotification(metrics.DeliveryOK)
		return
	}

	if errors.Is(err, queue.ErrChannelGone) {
		b.logger.Info("channel gone, requesting detach",
			"queue_id", n.QueueID,
			"kind", n.Kind)
		b.channels.DetachChannel(n.QueueID, ch)
		b.metrics.RecordNotification(metrics.DeliveryGone)
		return
	}

	b.logger.Warn("notification delivery failed",
		"queue_id", n.QueueID,
		"kind", n.Kind,
		"error", err)
	b.metrics.RecordNotification(metrics.DeliveryTransient)
}
