package fake

import (
	"context"
	"sync"

	"github.com/FleetFoot/RacePulse/internal/integrations/push"
)

// FakeClient records deliveries in memory. Used when no push provider is
// configured and by tests.
type FakeClient struct {
	mu   sync.Mutex
	sent []Delivery
}

type Delivery struct {
	RecipientID  string
	Notification push.Notification
}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Send(ctx context.Context, recipientID string, n push.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Delivery{RecipientID: recipientID, Notification: n})
	return nil
}

func (f *FakeClient) SendBatch(ctx context.Context, recipientIDs []string, n push.Notification) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range recipientIDs {
		f.sent = append(f.sent, Delivery{RecipientID: id, Notification: n})
	}
	return len(recipientIDs), nil
}

// Sent returns a copy of everything delivered so far.
func (f *FakeClient) Sent() []Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Delivery{}, f.sent...)
}
