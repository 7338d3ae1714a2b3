package service

import (
	"context"
	"time"

	"github.com/chronoshq/chronos-api/internal/models"
)

// folderResolver resolves folders with the session user's effective
// permission applied.
type folderResolver interface {
	GetFolder(ctx context.Context, folderID, userID string) (*models.Folder, error)
	VisibleFolders(ctx context.Context, userID string) ([]models.Folder, error)
}

// entityResolver resolves calendar users from internal ids or mailto URIs.
type entityResolver interface {
	ResolveByID(ctx context.Context, entityID string) (*models.CalendarUser, error)
	ResolveByURI(ctx context.Context, uri string) (*models.CalendarUser, error)
}

// SchedulingMessageMethod is the iTIP method of an outbound message.
type SchedulingMessageMethod string

const (
	MethodRequest SchedulingMessageMethod = "REQUEST"
	MethodCancel  SchedulingMessageMethod = "CANCEL"
	MethodReply   SchedulingMessageMethod = "REPLY"
)

// SchedulingMessage is one outbound notification about a calendar change.
type SchedulingMessage struct {
	Method     SchedulingMessageMethod       `json:"method"`
	Originator models.CalendarUser           `json:"originator"`
	Recipient  models.Attendee               `json:"recipient"`
	Resource   models.CalendarObjectResource `json:"resource"`
	Timestamp  time.Time                     `json:"timestamp"`
}

// Broker delivers scheduling messages. Delivery is fire and forget; the
// calendar core never consumes a result.
type Broker interface {
	Deliver(ctx context.Context, messages []SchedulingMessage) error
}

// freeBusyCache is the response cache consulted by the free/busy performer.
type freeBusyCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}
