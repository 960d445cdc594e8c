package notify

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/FleetFoot/RacePulse/internal/integrations/push"
)

// Provider-side ceiling on recipients per network call.
const maxBatchSize = 500

// Notifier throttles and dispatches. Dispatch is fire-and-forget relative
// to the caller: delivery failures are logged and counted, never returned
// into the detection path and never rolled back into the throttle.
type Notifier struct {
	throttle *Throttle
	client   push.Client

	batchSize int

	sent      atomic.Int64
	throttled atomic.Int64
	failed    atomic.Int64
}

func NewNotifier(throttle *Throttle, client push.Client) *Notifier {
	return &Notifier{
		throttle:  throttle,
		client:    client,
		batchSize: maxBatchSize,
	}
}

// WithBatchSize lowers the chunk size (it can never exceed the provider
// limit).
func (n *Notifier) WithBatchSize(size int) *Notifier {
	if size > 0 && size <= maxBatchSize {
		n.batchSize = size
	}
	return n
}

// Notify sends one notification of the given kind to one recipient,
// subject to the kind's cooldown. The throttle decision and stamp are
// synchronous; the network send runs on its own goroutine so a slow
// gateway never stalls the caller.
func (n *Notifier) Notify(ctx context.Context, recipientID, kind string, msg push.Notification) {
	if !n.throttle.Allow(recipientID, kind) {
		n.throttled.Add(1)
		return
	}
	go func() {
		if err := n.client.Send(ctx, recipientID, msg); err != nil {
			n.failed.Add(1)
			slog.Error("push delivery failed",
				"recipient_id", recipientID, "kind", kind, "error", err.Error())
			return
		}
		n.sent.Add(1)
	}()
}

// Broadcast fans one notification out to every recipient that passes the
// throttle, chunked to the provider limit. Throttle stamping happens before
// this returns; the chunked sends run on one goroutine, in order, and a
// failed chunk is logged while the broadcast moves on to the next one.
func (n *Notifier) Broadcast(ctx context.Context, recipientIDs []string, kind string, msg push.Notification) {
	allowed := make([]string, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		if n.throttle.Allow(id, kind) {
			allowed = append(allowed, id)
		} else {
			n.throttled.Add(1)
		}
	}
	if len(allowed) == 0 {
		return
	}

	go n.sendChunks(ctx, allowed, kind, msg)
}

func (n *Notifier) sendChunks(ctx context.Context, allowed []string, kind string, msg push.Notification) {
	for start := 0; start < len(allowed); start += n.batchSize {
		end := start + n.batchSize
		if end > len(allowed) {
			end = len(allowed)
		}
		chunk := allowed[start:end]

		accepted, err := n.client.SendBatch(ctx, chunk, msg)
		if err != nil {
			n.failed.Add(int64(len(chunk)))
			slog.Error("push batch failed",
				"kind", kind, "chunk_size", len(chunk), "error", err.Error())
			continue
		}
		n.sent.Add(int64(accepted))
	}
}

type Stats struct {
	Sent          int64 `json:"sent"`
	Throttled     int64 `json:"throttled"`
	Failed        int64 `json:"failed"`
	ThrottleTable int   `json:"throttleTable"`
}

func (n *Notifier) Stats() Stats {
	return Stats{
		Sent:          n.sent.Load(),
		Throttled:     n.throttled.Load(),
		Failed:        n.failed.Load(),
		ThrottleTable: n.throttle.Size(),
	}
}
