// Package activitymap flattens account activity events into a transport
// neutral record and ships them to a logger.
package activitymap

import (
	"context"
	"maps"
	"strings"
	"time"

	auth "github.com/goliatone/go-credentials"
)

// Metadata keys added during normalization
const (
	MetadataKeyActorType = "actor_type"
	MetadataKeyFromState = "from_state"
	MetadataKeyToState   = "to_state"
)

const (
	defaultChannel    = "credentials"
	defaultObjectType = "account"
	anonymousActor    = "anonymous"
)

// Record is the flattened shape of an auth.ActivityEvent
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization
type Option func(*options)

type options struct {
	channel    string
	objectType string
	fallback   string
	now        func() time.Time
}

// WithChannel sets the channel stamped on every record
func WithChannel(channel string) Option {
	return func(o *options) { o.channel = strings.TrimSpace(channel) }
}

// WithObjectType sets the object type stamped on every record
func WithObjectType(objectType string) Option {
	return func(o *options) { o.objectType = strings.TrimSpace(objectType) }
}

// WithActorFallback names the actor of events nobody claimed
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			o.fallback = actorID
		}
	}
}

// WithClock sets the clock used for events without a timestamp
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		channel:    defaultChannel,
		objectType: defaultObjectType,
		fallback:   anonymousActor,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Normalize converts ev into a Record. The actor defaults to the account
// the event is about, login failures for unknown identities fall back to
// the configured anonymous actor.
func Normalize(ev auth.ActivityEvent, opts ...Option) Record {
	return normalize(ev, newOptions(opts))
}

func normalize(ev auth.ActivityEvent, o options) Record {
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.now()
	}

	return Record{
		ActorID:    firstNonEmpty(strings.TrimSpace(ev.Actor.ID), strings.TrimSpace(ev.UserID), o.fallback),
		Verb:       string(ev.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(ev.UserID),
		Channel:    o.channel,
		Metadata:   metadata(ev),
		OccurredAt: occurredAt.UTC(),
	}
}

func metadata(ev auth.ActivityEvent) map[string]any {
	out := maps.Clone(ev.Metadata)
	set := func(key, value string) {
		if value == "" {
			return
		}
		if out == nil {
			out = map[string]any{}
		}
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	}

	set(MetadataKeyActorType, strings.TrimSpace(ev.Actor.Type))
	set(MetadataKeyFromState, string(ev.FromState))
	set(MetadataKeyToState, string(ev.ToState))

	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LogSink is an auth.ActivitySink that writes normalized records to a logger
type LogSink struct {
	logger auth.Logger
	opts   options
}

var _ auth.ActivitySink = (*LogSink)(nil)

// NewLogSink returns a sink writing to logger
func NewLogSink(logger auth.Logger, opts ...Option) *LogSink {
	if logger == nil {
		logger = auth.NopLogger()
	}
	return &LogSink{logger: logger, opts: newOptions(opts)}
}

// Record implements auth.ActivitySink
func (s *LogSink) Record(ctx context.Context, ev auth.ActivityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := normalize(ev, s.opts)
	args := []any{
		"actor_id", rec.ActorID,
		"object_type", rec.ObjectType,
		"object_id", rec.ObjectID,
		"channel", rec.Channel,
		"occurred_at", rec.OccurredAt,
	}
	if len(rec.Metadata) > 0 {
		args = append(args, "metadata", rec.Metadata)
	}

	s.logger.Info(rec.Verb, args...)
	return nil
}
