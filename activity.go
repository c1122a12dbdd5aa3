package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventUserRegistered         ActivityEventType = "user.registered"
	ActivityEventEmailVerified          ActivityEventType = "user.email.verified"
	ActivityEventVerificationIssued     ActivityEventType = "user.email.verification_issued"
	ActivityEventLoginSuccess           ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure           ActivityEventType = "auth.login.failure"
	ActivityEventLogout                 ActivityEventType = "auth.logout"
	ActivityEventRefreshRotated         ActivityEventType = "auth.refresh.rotated"
	ActivityEventRefreshReuseDetected   ActivityEventType = "auth.refresh.reuse_detected"
	ActivityEventPasswordResetRequested ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordResetSuccess   ActivityEventType = "auth.password.reset"
	ActivityEventPasswordChanged        ActivityEventType = "auth.password.changed"
	ActivityEventNotificationFailure    ActivityEventType = "auth.notification.failure"
	ActivityEventAccountStateChanged    ActivityEventType = "user.state.changed"
)

// ActorRef identifies who/what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	FromState  AccountState
	ToState    AccountState
	Metadata   map[string]any
	OccurredAt time.Time
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

// activityRecorder stamps and forwards events, sink errors are only logged.
type activityRecorder struct {
	sink   ActivitySink
	logger Logger
	now    func() time.Time
}

func newActivityRecorder(sink ActivitySink, logger Logger, now func() time.Time) activityRecorder {
	if logger == nil {
		logger = defLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return activityRecorder{sink: normalizeActivitySink(sink), logger: logger, now: now}
}

func (r activityRecorder) record(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
		if event.UserID != "" {
			event.Actor = ActorRef{ID: event.UserID, Type: "user"}
		}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}

	if err := normalizeActivitySink(r.sink).Record(ctx, event); err != nil {
		r.logger.Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
