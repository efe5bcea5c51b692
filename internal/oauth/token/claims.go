package token

import (
	"github.com/go-jose/go-jose/v4/jwt"
)

const tokenUseAccess = "access"

// Claims is the access token body.
type Claims struct {
	jwt.Claims
	UserID      string   `json:"uid,omitempty"`
	ClientID    string   `json:"client_id"`
	Scope       string   `json:"scope,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenUse    string   `json:"token_use"`
}

// HasPermission reports whether the token carries permission.
func (c *Claims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
