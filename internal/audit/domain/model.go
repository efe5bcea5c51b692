package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

const (
	ActionUserLogin            = "user.login"
	ActionUserLogout           = "user.logout"
	ActionUserCreated          = "user.created"
	ActionUserActivated        = "user.activated"
	ActionUserDeactivated      = "user.deactivated"
	ActionAuthorize            = "oauth.authorize"
	ActionConsent              = "oauth.consent"
	ActionCodeIssued           = "oauth.code_issued"
	ActionTokenIssued          = "oauth.token_issued"
	ActionTokenRefreshed       = "oauth.token_refreshed"
	ActionTokenRevoked         = "oauth.token_revoked"
	ActionTokenIntrospected    = "oauth.token_introspected"
	ActionRefreshReuseDetected = "oauth.refresh_reuse_detected"
	ActionRateLimitDenied      = "rate_limit.denied"
	ActionAuthorizationDenied  = "authorization.denied"
	ActionRoleCreated          = "rbac.role_created"
	ActionRoleUpdated          = "rbac.role_updated"
	ActionRoleAssigned         = "rbac.role_assigned"
	ActionRoleRevoked          = "rbac.role_revoked"
	ActionPermissionCreated    = "rbac.permission_created"
	ActionPermissionGranted    = "rbac.permission_granted"
	ActionPermissionRevoked    = "rbac.permission_revoked"
	ActionClientRegistered     = "client.registered"
	ActionClientDeactivated    = "client.deactivated"
)

// AuditLog is one persisted security event. Rows are append-only.
type AuditLog struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType    string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID      *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action       string            `gorm:"type:text;not null;index" json:"action"`
	ResourceType string            `gorm:"type:text;not null" json:"resource_type"`
	ResourceID   *string           `gorm:"type:text" json:"resource_id,omitempty"`
	Outcome      string            `gorm:"type:text;not null" json:"outcome"`
	Reason       *string           `gorm:"type:text" json:"reason,omitempty"`
	IPAddress    *string           `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent    *string           `gorm:"type:text" json:"user_agent,omitempty"`
	RequestID    *string           `gorm:"type:text" json:"request_id,omitempty"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Event is what callers hand to the sink. Empty actor fields are filled
// from the request context.
type Event struct {
	ActorType    string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      Outcome
	Reason       string
	Metadata     map[string]any
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action       string
	ResourceType string
	ResourceID   string
	ActorType    string
	ActorID      string
	Outcome      string
	StartAt      *time.Time
	EndAt        *time.Time
	Cursor       *AuditCursor
	Limit        int
}
