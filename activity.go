package auth

import (
	"context"
	"sync"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventUserStatusChanged  ActivityEventType = "user.status.changed"
	ActivityEventUserInvited        ActivityEventType = "user.invited"
	ActivityEventUserActivated      ActivityEventType = "user.activated"
	ActivityEventBusinessSignup     ActivityEventType = "business.signup"
	ActivityEventLoginSuccess       ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure       ActivityEventType = "auth.login.failure"
	ActivityEventLoginBlocked       ActivityEventType = "auth.login.blocked"
	ActivityEventTokenRefreshed     ActivityEventType = "auth.token.refreshed"
	ActivityEventLogout             ActivityEventType = "auth.logout"
	ActivityEventCredentialsRevoked ActivityEventType = "auth.credentials.revoked"
	ActivityEventMemberAdded        ActivityEventType = "project.member.added"
	ActivityEventMemberRoleChanged  ActivityEventType = "project.member.role_changed"
	ActivityEventMemberRemoved      ActivityEventType = "project.member.removed"
	ActivityEventLastAdminProtected ActivityEventType = "project.member.last_admin_protected"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
}

// ActorFromIdentity builds an actor reference for an authenticated user
func ActorFromIdentity(id Identity) ActorRef {
	return ActorRef{ID: id.UserID.String(), Type: string(id.BusinessRole)}
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType `json:"event_type"`
	Actor      ActorRef          `json:"actor"`
	UserID     string            `json:"user_id,omitempty"`
	BusinessID string            `json:"business_id,omitempty"`
	FromStatus UserStatus        `json:"from_status,omitempty"`
	ToStatus   UserStatus        `json:"to_status,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// LoggingActivitySink writes every event to a Logger
type LoggingActivitySink struct {
	Logger Logger
}

func (s LoggingActivitySink) Record(_ context.Context, event ActivityEvent) error {
	normalizeLogger(s.Logger).Info("activity",
		"event", string(event.EventType),
		"actor", event.Actor.ID,
		"actor_type", event.Actor.Type,
		"user_id", event.UserID,
		"business_id", event.BusinessID,
		"metadata", event.Metadata,
	)
	return nil
}

// MultiActivitySink fans an event out to several sinks and returns the
// first error after all of them ran
type MultiActivitySink []ActivitySink

func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// activityRecorder stamps and publishes events, sink failures are logged
// and never fail the calling operation
type activityRecorder struct {
	sink   ActivitySink
	logger Logger
	now    Clock
}

func (r activityRecorder) record(ctx context.Context, event ActivityEvent) {
	r.enqueue(ctx, event, false)
}

// recordRejection is published even when the surrounding transaction
// rolls back, the rollback being the outcome it reports.
func (r activityRecorder) recordRejection(ctx context.Context, event ActivityEvent) {
	r.enqueue(ctx, event, true)
}

func (r activityRecorder) enqueue(ctx context.Context, event ActivityEvent, onRollback bool) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		now := r.now
		if now == nil {
			now = time.Now
		}
		event.OccurredAt = now()
	}

	if buf, ok := ctx.Value(activityBufferKey{}).(*activityBuffer); ok {
		buf.add(bufferedEvent{recorder: r, event: event, onRollback: onRollback})
		return
	}

	r.publish(ctx, event)
}

func (r activityRecorder) publish(ctx context.Context, event ActivityEvent) {
	if err := normalizeActivitySink(r.sink).Record(ctx, event); err != nil {
		normalizeLogger(r.logger).Warn("activity sink error", "event", string(event.EventType), "error", err)
	}
}

type activityBufferKey struct{}

type bufferedEvent struct {
	recorder   activityRecorder
	event      ActivityEvent
	onRollback bool
}

// activityBuffer holds the events recorded inside a transaction until it
// ends, sinks never run while the transaction is open
type activityBuffer struct {
	mu     sync.Mutex
	events []bufferedEvent
}

// withActivityBuffer attaches a buffer to ctx. Nested transactions reuse
// the outermost buffer and report owned=false.
func withActivityBuffer(ctx context.Context) (context.Context, *activityBuffer, bool) {
	if buf, ok := ctx.Value(activityBufferKey{}).(*activityBuffer); ok {
		return ctx, buf, false
	}
	buf := &activityBuffer{}
	return context.WithValue(ctx, activityBufferKey{}, buf), buf, true
}

func (b *activityBuffer) add(e bufferedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// flush publishes the buffered events in order. After a rollback only
// rejection events are published.
func (b *activityBuffer) flush(ctx context.Context, committed bool) {
	b.mu.Lock()
	events := b.events
	b.events = nil
	b.mu.Unlock()

	for _, e := range events {
		if committed || e.onRollback {
			e.recorder.publish(ctx, e.event)
		}
	}
}
