// Package transport fans analysis results out to external consumers. All
// implementations are fire-and-forget: Send must be safe for concurrent use
// and must never block the analysis loop, dropping data instead when a
// consumer falls behind.
package transport

// Transport delivers a payload to one consumer endpoint.
type Transport interface {
	Send(data any) error
	Close() error
}
