// Package crypto implements the Encryption Wrapper (spec §4.13):
// AES-256-GCM at rest with per-user, per-purpose keys and a versioned
// textual envelope. Adapted from the teacher's
// internal/workspaces/encrypted_cache.go AES-GCM encrypt/decrypt helpers
// and its KeyProvider/DEK-cache indirection, generalized from per-project
// file encryption to per-(user, purpose) content encryption.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Purpose names the data class a key protects, so a compromise of one
// purpose's key never exposes another's content.
type Purpose string

const (
	PurposeSemanticContent  Purpose = "SEMANTIC_CONTENT"
	PurposeEpisodicMessages Purpose = "EPISODIC_MESSAGES"
	PurposeProceduralRules  Purpose = "PROCEDURAL_RULES"
)

const (
	formatVersion = "1"
	algorithm     = "aes-256-gcm"
)

// ErrAuthFailed is returned when decryption detects tampering (GCM tag
// mismatch). Callers must never fall back to returning the raw ciphertext
// as if it were plaintext.
var ErrAuthFailed = errors.New("crypto: AUTH_FAILED")

// KeyProvider mints and wraps per-(user, purpose) data encryption keys,
// the same indirection the teacher uses to keep key management (KMS,
// local file, etc.) pluggable behind the encrypt/decrypt primitives.
type KeyProvider interface {
	// KeyFor returns the current 32-byte DEK and its key id for
	// (userID, purpose), generating one if none exists yet.
	KeyFor(ctx context.Context, userID string, purpose Purpose) (key []byte, keyID string, err error)
	// Rotate mints a new DEK for (userID, purpose) and returns it
	// alongside the new key id; the old key id remains resolvable by
	// KeyByID for decrypting already-encrypted records until they are
	// re-encrypted.
	Rotate(ctx context.Context, userID string, purpose Purpose) (key []byte, keyID string, err error)
	// KeyByID resolves a previously issued key id back to its bytes, for
	// decrypting records written under an older key.
	KeyByID(ctx context.Context, keyID string) ([]byte, error)
}

// InMemoryKeyProvider is a process-local KeyProvider for tests and for
// deployments without an external KMS. Keys never leave the process.
type InMemoryKeyProvider struct {
	mu      sync.Mutex
	current map[string]string // (userID:purpose) -> current keyID
	keys    map[string][]byte // keyID -> key bytes
	seq     int
}

func NewInMemoryKeyProvider() *InMemoryKeyProvider {
	return &InMemoryKeyProvider{current: map[string]string{}, keys: map[string][]byte{}}
}

func scopeKey(userID string, purpose Purpose) string { return userID + ":" + string(purpose) }

func (p *InMemoryKeyProvider) KeyFor(_ context.Context, userID string, purpose Purpose) ([]byte, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	scope := scopeKey(userID, purpose)
	if id, ok := p.current[scope]; ok {
		return p.keys[id], id, nil
	}
	return p.mintLocked(scope)
}

func (p *InMemoryKeyProvider) Rotate(_ context.Context, userID string, purpose Purpose) ([]byte, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mintLocked(scopeKey(userID, purpose))
}

func (p *InMemoryKeyProvider) mintLocked(scope string) ([]byte, string, error) {
	key := make([]byte, 32)
	if _, err := crand.Read(key); err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	p.seq++
	id := scope + "#" + strconv.Itoa(p.seq)
	p.keys[id] = key
	p.current[scope] = id
	return key, id, nil
}

func (p *InMemoryKeyProvider) KeyByID(_ context.Context, keyID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("crypto: unknown key id %q", keyID)
	}
	return key, nil
}

// Wrapper encrypts/decrypts content through a KeyProvider, producing the
// versioned envelope format required by spec §4.13.
type Wrapper struct {
	keys KeyProvider
}

func New(keys KeyProvider) *Wrapper {
	return &Wrapper{keys: keys}
}

// Envelope is the parsed form of the "version:algorithm:keyId:iv:authTag:ciphertext"
// string format, each component (after version/algorithm/keyId) base64-encoded.
type Envelope struct {
	Version    string
	Algorithm  string
	KeyID      string
	Nonce      []byte
	Ciphertext []byte // includes the GCM auth tag as its suffix
}

// Encrypt seals plaintext under the current key for (userID, purpose) and
// returns the versioned envelope string.
func (w *Wrapper) Encrypt(ctx context.Context, userID string, purpose Purpose, plaintext []byte) (string, error) {
	key, keyID, err := w.keys.KeyFor(ctx, userID, purpose)
	if err != nil {
		return "", err
	}
	return seal(key, keyID, plaintext)
}

func seal(key []byte, keyID string, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(crand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	// GCM's Seal appends the auth tag to the ciphertext; split it back out
	// so the envelope carries authTag as its own base64 field, matching
	// the spec's explicit version:algorithm:iv:authTag:ciphertext layout.
	tagSize := gcm.Overhead()
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		formatVersion,
		algorithm,
		keyID,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt opens env, resolving its key id through the provider (so
// records written under a rotated-out key still decrypt). Any tampering,
// truncation, or unknown key id yields ErrAuthFailed — plaintext is never
// returned on a verification failure.
func (w *Wrapper) Decrypt(ctx context.Context, env string) ([]byte, error) {
	parts := strings.Split(env, ":")
	if len(parts) != 6 {
		return nil, ErrAuthFailed
	}
	version, alg, keyID, nonceB64, tagB64, ctB64 := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]
	if version != formatVersion || alg != algorithm {
		return nil, ErrAuthFailed
	}

	key, err := w.keys.KeyByID(ctx, keyID)
	if err != nil {
		return nil, ErrAuthFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, ErrAuthFailed
	}
	tag, err := base64.StdEncoding.DecodeString(tagB64)
	if err != nil {
		return nil, ErrAuthFailed
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return nil, ErrAuthFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrAuthFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrAuthFailed
	}
	sealed := append(append([]byte(nil), ct...), tag...)
	pt, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}

// IsEncryptedString reports whether s looks like one of this package's
// envelope strings: its first colon-separated component parses as a
// non-negative integer (the format version) and its second component
// matches the algorithm token, per spec §6. It does not verify the
// envelope decrypts; callers still need Decrypt for that.
func IsEncryptedString(s string) bool {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return false
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil || version < 0 {
		return false
	}
	return parts[1] == algorithm
}

// RotateNamespace mints a new key for (userID, purpose) and re-encrypts
// every plaintext in plaintexts (loaded by the caller from durable
// storage), returning the freshly sealed envelopes in the same order.
// Old records under the prior key remain decryptable via KeyByID until
// the caller overwrites them with the returned envelopes.
func (w *Wrapper) RotateNamespace(ctx context.Context, userID string, purpose Purpose, plaintexts [][]byte) ([]string, error) {
	_, keyID, err := w.keys.Rotate(ctx, userID, purpose)
	if err != nil {
		return nil, err
	}
	key, err := w.keys.KeyByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(plaintexts))
	for i, pt := range plaintexts {
		env, err := seal(key, keyID, pt)
		if err != nil {
			return nil, err
		}
		out[i] = env
	}
	return out, nil
}
