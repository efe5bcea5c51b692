package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	"github.com/smallbiznis/railgate/internal/audit/masking"
	"github.com/smallbiznis/railgate/internal/auditcontext"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/internal/observability/metrics"
	"github.com/smallbiznis/railgate/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	defaultBufferSize   = 1024
	defaultWriteTimeout = 2 * time.Second
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	Clock   clock.Clock
	GenID   *snowflake.Node
	Repo    auditdomain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

// Service buffers events in memory and persists them from a single worker.
type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	genID        *snowflake.Node
	repo         auditdomain.Repository
	metrics      *metrics.Metrics
	writeTimeout time.Duration

	queue chan auditdomain.AuditLog
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	started bool
}

func NewService(p Params) *Service {
	size := p.Config.Audit.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	timeout := p.Config.Audit.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		log:          p.Log.Named("audit.service"),
		clock:        clk,
		genID:        p.GenID,
		repo:         p.Repo,
		metrics:      p.Metrics,
		writeTimeout: timeout,
		queue:        make(chan auditdomain.AuditLog, size),
		done:         make(chan struct{}),
	}
}

// Start launches the worker. It is safe to call more than once.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go s.run()
}

func (s *Service) Record(ctx context.Context, event auditdomain.Event) {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		s.log.Warn("audit event without action dropped")
		return
	}
	entry := s.build(ctx, event)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(ctx, entry, "closed")
		return
	}
	select {
	case s.queue <- entry:
	default:
		s.drop(ctx, entry, "buffer_full")
	}
}

func (s *Service) drop(ctx context.Context, entry auditdomain.AuditLog, reason string) {
	s.log.Error("audit event dropped",
		zap.String("action", entry.Action),
		zap.String("outcome", entry.Outcome),
		zap.String("reason", reason),
	)
	s.metrics.RecordAuditDropped(ctx)
}

func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.wait(ctx)
	}
	s.closed = true
	started := s.started
	close(s.queue)
	s.mu.Unlock()

	if !started {
		// Nothing is draining; flush inline.
		for entry := range s.queue {
			s.write(entry)
		}
		close(s.done)
		return nil
	}
	return s.wait(ctx)
}

func (s *Service) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run() {
	defer close(s.done)
	for entry := range s.queue {
		s.write(entry)
	}
}

func (s *Service) write(entry auditdomain.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	if err := s.repo.Insert(ctx, &entry); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

func (s *Service) build(ctx context.Context, event auditdomain.Event) auditdomain.AuditLog {
	actorType := strings.TrimSpace(event.ActorType)
	actorID := strings.TrimSpace(event.ActorID)
	if actorType == "" {
		actorType, actorID = auditcontext.ActorFromContext(ctx)
	}

	outcome := event.Outcome
	if outcome == "" {
		outcome = auditdomain.OutcomeSuccess
	}
	resourceType := strings.TrimSpace(event.ResourceType)
	if resourceType == "" {
		resourceType = "unknown"
	}

	entry := auditdomain.AuditLog{
		ID:           s.genID.Generate(),
		ActorType:    actorType,
		ActorID:      optional(actorID),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: resourceType,
		ResourceID:   optional(event.ResourceID),
		Outcome:      string(outcome),
		Reason:       optional(event.Reason),
		IPAddress:    optional(auditcontext.IPAddressFromContext(ctx)),
		UserAgent:    optional(auditcontext.UserAgentFromContext(ctx)),
		RequestID:    optional(auditcontext.RequestIDFromContext(ctx)),
		CreatedAt:    s.clock.Now(),
	}
	if masked := masking.MaskJSON(event.Metadata); masked != nil {
		entry.Metadata = datatypes.JSONMap(masked)
	}
	return entry
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.AuditCursor
	decoded, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
	}
	if decoded != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(decoded.ID)
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.Size()
	items, err := s.repo.List(ctx, auditdomain.ListFilter{
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		ActorType:    req.ActorType,
		ActorID:      req.ActorID,
		Outcome:      req.Outcome,
		StartAt:      req.StartAt,
		EndAt:        req.EndAt,
		Cursor:       cursor,
		Limit:        pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, pageInfo := pagination.Page(items, pageSize, func(item *auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item != nil {
			logs = append(logs, *item)
		}
	}
	return auditdomain.ListAuditLogResponse{PageInfo: pageInfo, AuditLogs: logs}, nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
