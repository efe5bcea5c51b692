package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

type Service interface {
	// Authorize returns nil when one of the user's effective permissions
	// grants action on object, ErrForbidden otherwise.
	Authorize(ctx context.Context, userID snowflake.ID, object string, action string) error
}
