// Package cookie manages HTTP cookies whose values are encrypted and
// authenticated with AES-256-GCM.
//
// Secrets are passwords, not raw keys: each one is stretched into a 256-bit
// key with PBKDF2-SHA256. The first secret encrypts and every secret is tried
// on decryption, so a new secret can be prepended without logging users out.
package cookie

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MaxCookieSize is the maximum size of a Set-Cookie header value (4KB).
	MaxCookieSize = 4096

	minSecretLength = 32
	keyLength       = 32
	kdfIterations   = 100_000
)

// kdfSalt is fixed so that derived keys survive restarts.
var kdfSalt = []byte("authproxy/cookie/v1")

// Manager reads and writes cookies with shared default attributes.
type Manager struct {
	keys     [][]byte
	defaults Options
	maxSize  int
}

// ManagerOption configures the Manager itself rather than individual cookies.
type ManagerOption func(*Manager)

// WithMaxSize overrides the Set-Cookie size limit.
func WithMaxSize(size int) ManagerOption {
	return func(m *Manager) {
		if size > 0 {
			m.maxSize = size
		}
	}
}

// New creates a cookie manager. At least one secret of 32 or more characters is required.
func New(secrets []string, opts ...Option) (*Manager, error) {
	return NewWithOptions(secrets, opts)
}

// NewWithOptions creates a cookie manager with cookie defaults and manager options.
func NewWithOptions(secrets []string, cookieOpts []Option, managerOpts ...ManagerOption) (*Manager, error) {
	secrets = slices.DeleteFunc(slices.Clone(secrets), func(s string) bool { return s == "" })
	if len(secrets) == 0 {
		return nil, ErrNoSecret
	}

	keys := make([][]byte, 0, len(secrets))
	for i, secret := range secrets {
		if len(secret) < minSecretLength {
			return nil, fmt.Errorf("%w: secret %d has %d chars, need at least %d",
				ErrSecretTooShort, i, len(secret), minSecretLength)
		}
		keys = append(keys, pbkdf2.Key([]byte(secret), kdfSalt, kdfIterations, keyLength, sha256.New))
	}

	m := &Manager{
		keys: keys,
		defaults: applyOptions(Options{
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}, cookieOpts),
		maxSize: MaxCookieSize,
	}

	for _, opt := range managerOpts {
		opt(m)
	}

	return m, nil
}

// Set writes a cookie. A Set-Cookie already queued on w for the same name
// is replaced, so the last write within a response wins.
func (m *Manager) Set(w http.ResponseWriter, name, value string, opts ...Option) error {
	o := applyOptions(m.defaults, opts)

	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   o.MaxAge,
		Secure:   o.Secure,
		HttpOnly: o.HttpOnly,
		SameSite: o.SameSite,
	}

	header := c.String()
	if header == "" {
		return fmt.Errorf("%w: cookie %q", ErrInvalidFormat, name)
	}
	if len(header) > m.maxSize {
		return ErrCookieTooLarge{Name: name, Size: len(header), Max: m.maxSize}
	}

	m.replace(w, name, header)
	return nil
}

// Get returns the raw value of the named request cookie.
func (m *Manager) Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", ErrCookieNotFound
		}
		return "", err
	}
	return c.Value, nil
}

// Delete expires the named cookie using the manager's default attributes.
func (m *Manager) Delete(w http.ResponseWriter, name string, opts ...Option) {
	o := applyOptions(m.defaults, opts)
	c := &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: o.HttpOnly,
		SameSite: o.SameSite,
		Secure:   o.Secure,
	}
	m.replace(w, name, c.String())
}

// SetEncrypted encrypts value and writes it as a cookie.
func (m *Manager) SetEncrypted(w http.ResponseWriter, name, value string, opts ...Option) error {
	encrypted, err := m.Encrypt([]byte(value))
	if err != nil {
		return err
	}
	return m.Set(w, name, encrypted, opts...)
}

// GetEncrypted reads and decrypts the named cookie.
func (m *Manager) GetEncrypted(r *http.Request, name string) (string, error) {
	encrypted, err := m.Get(r, name)
	if err != nil {
		return "", err
	}
	plain, err := m.Decrypt(encrypted)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Encrypt seals plaintext with the primary key.
// The result is base64url(nonce || ciphertext || tag).
func (m *Manager) Encrypt(plaintext []byte) (string, error) {
	gcm, err := newGCM(m.keys[0])
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt with any configured key.
func (m *Manager) Decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidFormat
	}

	for _, key := range m.keys {
		gcm, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
			return nil, ErrInvalidFormat
		}
		nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
		if plain, err := gcm.Open(nil, nonce, ciphertext, nil); err == nil {
			return plain, nil
		}
	}

	return nil, ErrDecryptionFailed
}

// replace drops queued Set-Cookie headers for name and appends header.
func (m *Manager) replace(w http.ResponseWriter, name, header string) {
	h := w.Header()
	prefix := name + "="
	kept := slices.DeleteFunc(h.Values("Set-Cookie"), func(v string) bool {
		return strings.HasPrefix(v, prefix)
	})
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
	h.Add("Set-Cookie", header)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
