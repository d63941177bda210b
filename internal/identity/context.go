package identity

import "context"

type senderKey struct{}

// WithSender returns ctx carrying the authenticated caller.
func WithSender(ctx context.Context, sender string) context.Context {
	return context.WithValue(ctx, senderKey{}, sender)
}

// SenderFromContext returns the caller stored by WithSender. ok is false
// when no authentication layer has run; sender is "" for anonymous callers.
func SenderFromContext(ctx context.Context) (sender string, ok bool) {
	sender, ok = ctx.Value(senderKey{}).(string)
	return sender, ok
}
