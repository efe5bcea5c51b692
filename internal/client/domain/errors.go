package domain

import "errors"

var (
	// ErrInvalidClient covers unknown ids, inactive clients and bad secrets
	// alike.
	ErrInvalidClient      = errors.New("invalid_client")
	ErrClientNotFound     = errors.New("client not found")
	ErrClientExists       = errors.New("client already exists")
	ErrInvalidClientType  = errors.New("client type must be public or confidential")
	ErrInvalidRedirectURI = errors.New("invalid redirect uri")
	ErrInvalidGrantType   = errors.New("unsupported grant type")
	ErrInvalidScope       = errors.New("invalid_scope")
)
