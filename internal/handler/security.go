package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/promoforge/coupon-engine/internal/domain/auth"
)

// apiKeyHeader carries the admin API key.
const apiKeyHeader = "X-API-Key"

// SecurityHandler authenticates admin requests via HMAC-SHA256 hashed API
// keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// RequireAPIKey rejects requests that do not carry a known API key. The key
// is hashed with HMAC-SHA256 before lookup so a leaked database dump does
// not expose usable keys.
func (s *SecurityHandler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "", "missing API key")
			return
		}

		mac := hmac.New(sha256.New, s.pepper)
		mac.Write([]byte(key))
		hash := mac.Sum(nil)
		hexHash := hex.EncodeToString(hash)

		info, err := s.apikeys.FindByHash(r.Context(), hexHash)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "", "unauthorized")
			return
		}

		// Constant-time comparison guards against timing side-channels even
		// though the lookup already succeeded: the stored hash could differ
		// from what we computed if the repository returns a stale row.
		storedBytes, err := hex.DecodeString(info.KeyHash)
		if err != nil || subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
			writeError(w, http.StatusUnauthorized, "", "unauthorized")
			return
		}

		zctx.From(r.Context()).Debug("admin request authenticated",
			zap.String("key_name", info.Name),
		)
		next.ServeHTTP(w, r)
	})
}

// HashKey computes the stored form of an API key. Provisioning tools use it
// when inserting new keys.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
