package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// params are the Argon2id cost settings embedded in every encoded hash.
type params struct {
	memory  uint32
	time    uint32
	threads uint8
}

// current is what Hash writes today. Hashes made with other settings still
// verify and are reported by NeedsRehash.
var current = params{memory: 64 * 1024, time: 1, threads: 4}

const (
	keyLen  = 32
	saltLen = 16
)

// Hash returns the PHC-encoded Argon2id hash used for user passwords and
// client secrets.
func Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, current.time, current.memory, current.threads, keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, current.memory, current.time, current.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against an encoded hash in constant time.
// Malformed encodings never verify.
func Verify(password, encoded string) bool {
	p, salt, key, ok := decode(encoded)
	if !ok {
		return false
	}
	check := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, check) == 1
}

// NeedsRehash reports whether encoded was produced with settings other than
// the current ones.
func NeedsRehash(encoded string) bool {
	p, _, key, ok := decode(encoded)
	return !ok || p != current || len(key) != keyLen
}

func decode(encoded string) (params, []byte, []byte, bool) {
	var p params
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return p, nil, nil, false
	}
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil || n != 3 {
		return p, nil, nil, false
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return p, nil, nil, false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, false
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, false
	}
	return p, salt, key, true
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// VerifyDummy spends the same work as Verify against a throwaway hash, so
// a login for a missing account takes as long as one for a real account.
func VerifyDummy(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = Hash("railgate-dummy-password")
	})
	if dummyHash != "" {
		_ = Verify(password, dummyHash)
	}
}
