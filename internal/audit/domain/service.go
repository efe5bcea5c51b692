package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/railgate/pkg/db/pagination"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action       string     `form:"action"`
	ResourceType string     `form:"resource_type"`
	ResourceID   string     `form:"resource_id"`
	ActorType    string     `form:"actor_type"`
	ActorID      string     `form:"actor_id"`
	Outcome      string     `form:"outcome"`
	StartAt      *time.Time `form:"-"`
	EndAt        *time.Time `form:"-"`
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

// Sink accepts security events. Record never blocks and never fails the
// caller; delivery is best effort.
type Sink interface {
	Record(ctx context.Context, event Event)
}

type Service interface {
	Sink
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
	// Close stops accepting events and waits for the buffer to drain.
	Close(ctx context.Context) error
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
