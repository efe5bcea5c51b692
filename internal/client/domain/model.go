// Package domain contains the OAuth client registry types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ClientType string

const (
	TypePublic       ClientType = "public"
	TypeConfidential ClientType = "confidential"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// OAuthClient is a registered relying party.
type OAuthClient struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	ClientID       string       `gorm:"column:client_id;type:text;not null;uniqueIndex"`
	Name           string       `gorm:"column:name;type:text;not null"`
	Type           ClientType   `gorm:"column:client_type;type:text;not null"`
	SecretHash     *string      `gorm:"column:secret_hash;type:text"`
	RedirectURIs   []string     `gorm:"column:redirect_uris;serializer:json;not null"`
	AllowedScopes  []string     `gorm:"column:allowed_scopes;serializer:json;not null"`
	GrantTypes     []string     `gorm:"column:grant_types;serializer:json;not null"`
	RequireConsent bool         `gorm:"column:require_consent;not null"`
	Active         bool         `gorm:"column:active;not null"`
	CreatedAt      time.Time    `gorm:"not null"`
	UpdatedAt      time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (OAuthClient) TableName() string { return "oauth_clients" }

func (c *OAuthClient) IsPublic() bool {
	return c.Type == TypePublic
}

// ClientView is the admin API representation. Secrets are never included.
type ClientView struct {
	ClientID       string    `json:"client_id"`
	Name           string    `json:"name"`
	Type           string    `json:"client_type"`
	RedirectURIs   []string  `json:"redirect_uris"`
	AllowedScopes  []string  `json:"allowed_scopes"`
	GrantTypes     []string  `json:"grant_types"`
	RequireConsent bool      `json:"require_consent"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

func (c *OAuthClient) View() ClientView {
	return ClientView{
		ClientID:       c.ClientID,
		Name:           c.Name,
		Type:           string(c.Type),
		RedirectURIs:   c.RedirectURIs,
		AllowedScopes:  c.AllowedScopes,
		GrantTypes:     c.GrantTypes,
		RequireConsent: c.RequireConsent,
		Active:         c.Active,
		CreatedAt:      c.CreatedAt,
	}
}
