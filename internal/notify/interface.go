package notify

import "context"

// Dispatcher delivers a push notification to one registered device.
// Delivery is best-effort: callers log failures and move on, they are
// never propagated into message handling.
type Dispatcher interface {
	Send(ctx context.Context, deviceToken, title, body string) error
}

// NopDispatcher is used when push is disabled.
type NopDispatcher struct{}

func (NopDispatcher) Send(ctx context.Context, deviceToken, title, body string) error {
	return nil
}
