// Package audit records structured entries for security-relevant mutations
// such as logins, lockouts and role changes.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Actions emitted by the engines.
const (
	ActionLogin      = "auth.login"
	ActionLockout    = "auth.lockout"
	ActionLogout     = "auth.logout"
	ActionUnlock     = "user.unlock"
	ActionRoleAssign = "role.assign"
	ActionRoleRemove = "role.remove"
)

// Event is one audit entry.
type Event struct {
	ID         string            `json:"id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   string            `json:"target_id"`
	TenantID   string            `json:"tenant_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// Recorder receives audit events. Implementations must not block the
// caller on slow sinks for longer than a request can tolerate.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) {}

// Multi fans an event out to several recorders in order.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Event) {
	for _, r := range m {
		r.Record(ctx, e)
	}
}

// SlogRecorder writes each event as an "audit" log line.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a SlogRecorder. A nil logger uses slog.Default.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	return &SlogRecorder{logger: logger}
}

func (s *SlogRecorder) Record(ctx context.Context, e Event) {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"action", e.Action,
		"actor", e.Actor,
		"target_type", e.TargetType,
		"target_id", e.TargetID,
	}
	if e.TenantID != "" {
		attrs = append(attrs, "tenant_id", e.TenantID)
	}
	if e.IP != "" {
		attrs = append(attrs, "ip", e.IP)
	}
	if e.RequestID != "" {
		attrs = append(attrs, "request_id", e.RequestID)
	}
	for k, v := range e.Detail {
		attrs = append(attrs, k, v)
	}
	logger.InfoContext(ctx, "audit", attrs...)
}

// ChannelRecorder delivers events on a buffered channel. When the buffer is
// full the event is dropped rather than blocking the caller.
type ChannelRecorder struct {
	events chan Event
}

// NewChannelRecorder creates a ChannelRecorder with the given buffer size.
func NewChannelRecorder(buffer int) *ChannelRecorder {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelRecorder{events: make(chan Event, buffer)}
}

func (c *ChannelRecorder) Record(_ context.Context, e Event) {
	select {
	case c.events <- e:
	default:
	}
}

// Events returns the delivery channel.
func (c *ChannelRecorder) Events() <-chan Event { return c.events }

type requestKey int

const (
	ipKey requestKey = iota
	requestIDKey
)

// WithRequest returns a context carrying the client address and request id
// of the current request. Engines copy them into the events they emit.
func WithRequest(ctx context.Context, ip, requestID string) context.Context {
	ctx = context.WithValue(ctx, ipKey, ip)
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Enrich fills e's IP and RequestID from ctx when unset.
func Enrich(ctx context.Context, e Event) Event {
	if e.IP == "" {
		e.IP, _ = ctx.Value(ipKey).(string)
	}
	if e.RequestID == "" {
		e.RequestID, _ = ctx.Value(requestIDKey).(string)
	}
	return e
}
