package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/railgate/internal/apperr"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/authorization"
	clientdomain "github.com/smallbiznis/railgate/internal/client/domain"
	rbacdomain "github.com/smallbiznis/railgate/internal/rbac/domain"
	"gorm.io/gorm"
)

// ErrorHandlingMiddleware renders errors attached with c.Error by handlers
// that did not write a response themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		e := mapError(lastErr.Err)
		c.Header("Cache-Control", "no-store")
		c.AbortWithStatusJSON(apperr.HTTPStatus(e), apperr.Public(e))
	}
}

// AbortWithError converts domain errors and writes the response.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	apperr.Abort(c, mapError(err))
}

func invalidRequestError(description string) error {
	return apperr.Validation(apperr.CodeInvalidRequest, description)
}

// mapError translates the sentinel errors of the domain packages into the
// shared taxonomy. Values that already are *apperr.Error pass through.
func mapError(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, authorization.ErrForbidden):
		return apperr.ErrForbidden
	case errors.Is(err, authorization.ErrInvalidActor):
		return apperr.ErrInvalidToken
	case isValidationError(err):
		return apperr.Validation(apperr.CodeInvalidRequest, err.Error())
	case isConflictError(err):
		return apperr.ErrConflict.WithDescription(err.Error())
	case isNotFoundError(err):
		return apperr.ErrNotFound.WithDescription(err.Error())
	default:
		return apperr.Internal(err, "unmapped domain error")
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, authdomain.ErrInvalidUsername),
		errors.Is(err, authdomain.ErrWeakPassword),
		errors.Is(err, rbacdomain.ErrInvalidName),
		errors.Is(err, clientdomain.ErrInvalidClient),
		errors.Is(err, clientdomain.ErrInvalidClientType),
		errors.Is(err, clientdomain.ErrInvalidRedirectURI),
		errors.Is(err, clientdomain.ErrInvalidGrantType),
		errors.Is(err, clientdomain.ErrInvalidScope),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, authdomain.ErrUserExists),
		errors.Is(err, rbacdomain.ErrRoleExists),
		errors.Is(err, rbacdomain.ErrPermissionExists),
		errors.Is(err, clientdomain.ErrClientExists):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, authdomain.ErrUserNotFound),
		errors.Is(err, rbacdomain.ErrRoleNotFound),
		errors.Is(err, rbacdomain.ErrPermissionNotFound),
		errors.Is(err, clientdomain.ErrClientNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
