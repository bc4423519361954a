package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/SleepyXm/SynapseR/internal/log"
)

const (
	ownerCookieName = "uid"
	cookieMaxAge    = 30 * 24 * 3600 // 30 days in seconds
)

type ownerIDKey struct{}

var ctxKeyOwnerID = ownerIDKey{}

// ownerFromContext retrieves the caller identity from the request context.
func ownerFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxKeyOwnerID).(string)
	return uid, ok
}

// identity manages the HMAC-signed owner cookie.
type identity struct {
	hmacSecret []byte
	isDev      bool
	logger     log.Logger
}

// OwnerID extracts the caller identity from the uid cookie. Returns empty
// when the cookie is absent, the signature does not verify, or the value
// is not a UUID. The HMAC check prevents identity forgery; the UUID check
// keeps malformed values out of queries.
func (id *identity) OwnerID(r *http.Request) string {
	cookie, err := r.Cookie(ownerCookieName)
	if err != nil {
		return ""
	}
	uid, ok := verifySignedUID(cookie.Value, id.hmacSecret)
	if !ok {
		return ""
	}
	if _, err := uuid.Parse(uid); err != nil {
		return ""
	}
	return uid
}

func (id *identity) setOwnerCookie(w http.ResponseWriter, ownerID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     ownerCookieName,
		Value:    signUID(ownerID, id.hmacSecret),
		Path:     "/",
		Secure:   !id.isDev,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   cookieMaxAge,
	})
}

// identityMiddleware auto-provisions caller identity. First visit mints a
// fresh UUID and sets the signed uid cookie; later requests reuse it.
func identityMiddleware(id *identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID := id.OwnerID(r)
			if ownerID == "" {
				ownerID = uuid.New().String()
				id.setOwnerCookie(w, ownerID)
			}
			ctx := context.WithValue(r.Context(), ctxKeyOwnerID, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// signUID creates a signed cookie value: "uid.base64url(HMAC-SHA256(secret, uid))".
func signUID(uid string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(uid))
	sig := base64.URLEncoding.EncodeToString(h.Sum(nil))
	return uid + "." + sig
}

// verifySignedUID splits a signed cookie value and verifies the signature
// in constant time.
func verifySignedUID(value string, secret []byte) (string, bool) {
	idx := strings.LastIndex(value, ".")
	if idx < 1 {
		return "", false
	}

	uid := value[:idx]
	sig, err := base64.URLEncoding.DecodeString(value[idx+1:])
	if err != nil {
		return "", false
	}

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(uid))
	expected := h.Sum(nil)

	if subtle.ConstantTimeCompare(sig, expected) != 1 {
		return "", false
	}

	return uid, true
}
