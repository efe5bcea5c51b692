package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKey(t *testing.T, curve elliptic.Curve, pkcs8 bool) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if pkcs8 {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	} else {
		der, err := x509.MarshalECPrivateKey(key)
		require.NoError(t, err)
		block = &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	}
	path := filepath.Join(t.TempDir(), "signing.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path, key
}

func TestLoadSigningKeyFormats(t *testing.T) {
	for _, pkcs8 := range []bool{true, false} {
		path, key := writeKey(t, elliptic.P256(), pkcs8)
		loaded, err := LoadSigningKey(path)
		require.NoError(t, err)
		assert.True(t, key.Equal(loaded))
	}
}

func TestLoadSigningKeyRejectsOtherCurves(t *testing.T) {
	path, _ := writeKey(t, elliptic.P384(), true)
	_, err := LoadSigningKey(path)
	assert.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestKeyIDIsStableThumbprint(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	a, err := NewKeySetFromKey(key)
	require.NoError(t, err)
	b, err := NewKeySetFromKey(key)
	require.NoError(t, err)
	assert.Equal(t, a.KeyID(), b.KeyID())
	assert.Len(t, a.KeyID(), 43)

	jwks := a.JWKS()
	require.Len(t, jwks.Keys, 1)
	assert.True(t, jwks.Keys[0].IsPublic())
	assert.Equal(t, "ES256", jwks.Keys[0].Algorithm)
	assert.Equal(t, a.KeyID(), jwks.Keys[0].KeyID)
}
