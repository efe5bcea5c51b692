package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrUserInactive       = errors.New("user inactive")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrWeakPassword       = errors.New("password too short")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrInvalidSession     = errors.New("invalid session")
)

// Login failure reasons. They are recorded in logs and audit entries but
// never returned to the client.
const (
	ReasonUnknownUser = "unknown_user"
	ReasonBadPassword = "bad_password"
	ReasonLocked      = "locked"
	ReasonInactive    = "inactive"
)

// LoginFailure is returned for every failed login. It matches
// ErrInvalidCredentials with errors.Is so callers cannot accidentally leak
// the reason.
type LoginFailure struct {
	Reason string
}

func (e *LoginFailure) Error() string {
	return ErrInvalidCredentials.Error()
}

func (e *LoginFailure) Is(target error) bool {
	return target == ErrInvalidCredentials
}

// FailureReason extracts the internal reason from a login error.
func FailureReason(err error) string {
	var lf *LoginFailure
	if errors.As(err, &lf) {
		return lf.Reason
	}
	return ""
}
