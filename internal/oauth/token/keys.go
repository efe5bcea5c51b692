package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/smallbiznis/railgate/internal/config"
	"go.uber.org/zap"
)

// SigningAlgorithm is the only algorithm access tokens are signed or
// accepted with.
const SigningAlgorithm = jose.ES256

var ErrUnsupportedKey = errors.New("signing key must be an ECDSA P-256 private key")

// KeySet holds the active signing key and its public counterpart.
type KeySet struct {
	private *ecdsa.PrivateKey
	keyID   string
	signer  jose.Signer
}

// NewKeySet loads the PEM key named by OAUTH_SIGNING_KEY_FILE, or generates
// an ephemeral key when none is configured.
func NewKeySet(cfg config.Config, log *zap.Logger) (*KeySet, error) {
	path := strings.TrimSpace(cfg.OAuth.SigningKeyFile)
	if path == "" {
		if cfg.IsProduction() {
			log.Warn("no signing key configured; tokens will not survive a restart")
		}
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		return NewKeySetFromKey(key)
	}

	key, err := LoadSigningKey(path)
	if err != nil {
		return nil, err
	}
	return NewKeySetFromKey(key)
}

// LoadSigningKey reads a SEC 1 or PKCS #8 encoded EC private key.
func LoadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	keyPEM, err := os.ReadFile(path) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from signing key")
	}

	if ecKey, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return checkCurve(ecKey)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	return checkCurve(ecKey)
}

func checkCurve(key *ecdsa.PrivateKey) (*ecdsa.PrivateKey, error) {
	if key.Curve != elliptic.P256() {
		return nil, ErrUnsupportedKey
	}
	return key, nil
}

func NewKeySetFromKey(key *ecdsa.PrivateKey) (*KeySet, error) {
	if key == nil {
		return nil, ErrUnsupportedKey
	}
	if _, err := checkCurve(key); err != nil {
		return nil, err
	}
	kid, err := deriveKeyID(key)
	if err != nil {
		return nil, err
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: SigningAlgorithm,
			Key:       jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: string(SigningAlgorithm)},
		},
		(&jose.SignerOptions{}).WithType("at+jwt"),
	)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return &KeySet{private: key, keyID: kid, signer: signer}, nil
}

// deriveKeyID is the RFC 7638 thumbprint of the public key.
func deriveKeyID(key *ecdsa.PrivateKey) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

func (k *KeySet) KeyID() string { return k.keyID }

func (k *KeySet) Signer() jose.Signer { return k.signer }

func (k *KeySet) PublicKey() *ecdsa.PublicKey { return &k.private.PublicKey }

// JWKS is the public key set served to resource servers.
func (k *KeySet) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       k.PublicKey(),
			KeyID:     k.keyID,
			Algorithm: string(SigningAlgorithm),
			Use:       "sig",
		}},
	}
}
