package audit

import "context"

type clientContextKey struct{}

// ClientInfo is the caller metadata attached to audit events
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// WithClient stores caller metadata on ctx
func WithClient(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientContextKey{}, info)
}

// ClientFromContext returns the caller metadata stored by WithClient
func ClientFromContext(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientContextKey{}).(ClientInfo)
	return info, ok
}
