package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sdko-org/site-gateway/internal/apperr"
	"github.com/sdko-org/site-gateway/internal/kv"
	"github.com/sdko-org/site-gateway/internal/models"
	"github.com/sdko-org/site-gateway/internal/validate"
)

const adminKeyPrefix = "_admin:"

var (
	ErrMissingToken = apperr.Unauthorized("missing or malformed Authorization header")
	ErrInvalidToken = apperr.Forbidden("invalid token")
	ErrSuperAdmin   = apperr.Forbidden("super admin token required")
)

// Principal identifies the caller of an admin request.
type Principal struct {
	SuperAdmin bool
	KeyID      string
}

// AdminAuthenticator checks bearer tokens against the deployment's super
// admin secret and the per-user keys stored under "_admin:{sha256}".
type AdminAuthenticator struct {
	superToken string
	store      kv.Store
}

func NewAdminAuthenticator(superToken string, store kv.Store) *AdminAuthenticator {
	return &AdminAuthenticator{superToken: superToken, store: store}
}

// KeyID is the hash under which a user token is stored.
func KeyID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate validates an Authorization header value.
func (a *AdminAuthenticator) Authenticate(ctx context.Context, header string) (Principal, error) {
	token, ok := bearerToken(header)
	if !ok {
		return Principal{}, ErrMissingToken
	}

	if a.superToken != "" && validate.TimingSafeEqual(token, a.superToken) {
		return Principal{SuperAdmin: true}, nil
	}

	id := KeyID(token)
	_, err := a.store.Get(ctx, adminKeyPrefix+id)
	if errors.Is(err, kv.ErrNotFound) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, fmt.Errorf("lookup admin key: %w", err)
	}
	return Principal{KeyID: id}, nil
}

// CreateKey mints a new per-user token. Only its hash is persisted; the
// plaintext is returned once.
func (a *AdminAuthenticator) CreateKey(ctx context.Context, label string, now time.Time) (token, id string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("read random bytes: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	id = KeyID(token)

	rec, err := json.Marshal(models.AdminKey{Label: label, Created: now.UTC().Format(time.RFC3339)})
	if err != nil {
		return "", "", err
	}
	if err := a.store.Put(ctx, adminKeyPrefix+id, rec, 0); err != nil {
		return "", "", fmt.Errorf("store admin key: %w", err)
	}
	return token, id, nil
}

// RevokeKey deletes a per-user key by id.
func (a *AdminAuthenticator) RevokeKey(ctx context.Context, id string) error {
	if _, err := hex.DecodeString(id); err != nil || len(id) != sha256.Size*2 {
		return apperr.InvalidArg("invalid key id")
	}
	_, err := a.store.Get(ctx, adminKeyPrefix+id)
	if errors.Is(err, kv.ErrNotFound) {
		return apperr.NotFound("key not found")
	}
	if err != nil {
		return fmt.Errorf("lookup admin key: %w", err)
	}
	if err := a.store.Delete(ctx, adminKeyPrefix+id); err != nil {
		return fmt.Errorf("delete admin key: %w", err)
	}
	return nil
}
