package push

import "context"

// Notification is one rendered push message. Data carries the structured
// payload the app uses to deep-link into the race screen.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Client delivers notifications through the push provider. SendBatch takes
// at most one provider-limit chunk of recipients (the notifier slices
// larger sets) and returns the count accepted by the provider.
type Client interface {
	Send(ctx context.Context, recipientID string, n Notification) error
	SendBatch(ctx context.Context, recipientIDs []string, n Notification) (int, error)
}
