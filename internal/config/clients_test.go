package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientsHolderReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.yml")
	content := `clients:
  - client_id: admin-portal
    name: Admin Portal
    type: public
    redirect_uris: ["https://admin.example.com/callback"]
    scopes: [read, write]
    grant_types: [authorization_code, refresh_token]
    require_consent: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewClientsHolder(path)
	require.NoError(t, err)

	cfg := holder.Get()
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "admin-portal", cfg.Clients[0].ClientID)
	assert.Equal(t, []string{"read", "write"}, cfg.Clients[0].Scopes)
	assert.True(t, cfg.Clients[0].RequireConsent)
}

func TestNewClientsHolderRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.yml")
	content := `clients:
  - client_id: a
    type: confidential
  - client_id: a
    type: confidential
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := NewClientsHolder(path)
	assert.Error(t, err)
}

func TestNewClientsHolderEmptyPath(t *testing.T) {
	holder, err := NewClientsHolder("")
	require.NoError(t, err)
	assert.Empty(t, holder.Get().Clients)
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("RG_TEST_DURATION", "90")
	assert.Equal(t, 90*1e9, float64(getenvDuration("RG_TEST_DURATION", 0)))

	t.Setenv("RG_TEST_DURATION", "2m")
	assert.Equal(t, "2m0s", getenvDuration("RG_TEST_DURATION", 0).String())

	t.Setenv("RG_TEST_DURATION", "garbage")
	assert.Equal(t, "1s", getenvDuration("RG_TEST_DURATION", 1e9).String())
}
