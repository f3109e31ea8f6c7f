// Package activitymap flattens tenant auth activity events into a
// transport agnostic record for audit pipelines.
package activitymap

import (
	"encoding/json"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	auth "github.com/goliatone/go-tenant-auth"
)

const (
	MetadataKeyActorType  = "actor_type"
	MetadataKeyFromStatus = "from_status"
	MetadataKeyToStatus   = "to_status"
	MetadataKeyBusinessID = "business_id"
	MetadataKeyProjectID  = "project_id"
)

const (
	ObjectTypeUser     = "user"
	ObjectTypeBusiness = "business"
	ObjectTypeProject  = "project"
	ObjectTypeSession  = "session"
)

const (
	defaultChannel = "tenant-auth"
	defaultActorID = "system"
)

// Normalized is the record published for each activity event. Tenant is
// the business the event belongs to, empty for anonymous login attempts.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Tenant     string         `json:"tenant,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

// Normalize converts an event. Project membership events point at the
// project, business signups at the business and session events at the
// user's session. Everything else points at the user.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	objectType, objectID := objectOf(event)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now()
	}

	return Normalized{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.Actor.ID), strings.TrimSpace(event.UserID), options.actorFallback),
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Tenant:     event.BusinessID,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

// Encode normalizes and marshals an event, it plugs into
// auth.WithKafkaEncoder
func Encode(event auth.ActivityEvent) ([]byte, error) {
	out, err := json.Marshal(Normalize(event))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "encode normalized activity")
	}
	return out, nil
}

func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if channel = strings.TrimSpace(channel); channel != "" {
			opts.channel = channel
		}
	}
}

// WithActorFallback sets the actor id used when neither actor nor user is known
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			opts.actorFallback = actorID
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func objectOf(event auth.ActivityEvent) (string, string) {
	switch event.EventType {
	case auth.ActivityEventMemberAdded,
		auth.ActivityEventMemberRoleChanged,
		auth.ActivityEventMemberRemoved,
		auth.ActivityEventLastAdminProtected:
		if id, ok := event.Metadata[MetadataKeyProjectID].(string); ok {
			return ObjectTypeProject, id
		}
	case auth.ActivityEventBusinessSignup:
		return ObjectTypeBusiness, event.BusinessID
	case auth.ActivityEventLoginSuccess,
		auth.ActivityEventLoginFailure,
		auth.ActivityEventLoginBlocked,
		auth.ActivityEventTokenRefreshed,
		auth.ActivityEventLogout,
		auth.ActivityEventCredentialsRevoked:
		return ObjectTypeSession, event.UserID
	}
	return ObjectTypeUser, event.UserID
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := make(map[string]any, len(event.Metadata)+4)
	for k, v := range event.Metadata {
		metadata[k] = v
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, exists := metadata[MetadataKeyActorType]; !exists {
			metadata[MetadataKeyActorType] = actorType
		}
	}
	if event.FromStatus != "" {
		metadata[MetadataKeyFromStatus] = string(event.FromStatus)
	}
	if event.ToStatus != "" {
		metadata[MetadataKeyToStatus] = string(event.ToStatus)
	}
	if event.BusinessID != "" {
		metadata[MetadataKeyBusinessID] = event.BusinessID
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
