package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
)

// ListAuditLogs serves GET /admin/audit-logs. Filters match exactly; start_at
// and end_at are RFC 3339 bounds on created_at.
func (s *Server) ListAuditLogs(c *gin.Context) {
	var req auditdomain.ListAuditLogRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid query"))
		return
	}

	var ok bool
	if req.StartAt, ok = queryTime(c, "start_at"); !ok {
		AbortWithError(c, invalidRequestError("invalid start_at"))
		return
	}
	if req.EndAt, ok = queryTime(c, "end_at"); !ok {
		AbortWithError(c, invalidRequestError("invalid end_at"))
		return
	}
	for _, f := range []*string{&req.PageToken, &req.Action, &req.ResourceType, &req.ResourceID, &req.ActorType, &req.ActorID, &req.Outcome} {
		*f = strings.TrimSpace(*f)
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}

func queryTime(c *gin.Context, key string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false
	}
	return &t, true
}
