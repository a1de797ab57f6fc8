package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sdko-org/site-gateway/internal/validate"
)

// clockSkew is how far in the future a cookie timestamp may be before it
// is treated as forged.
const clockSkew = time.Minute

func sessionPayload(brand, site string, ts int64) string {
	return brand + "/" + site + ":" + strconv.FormatInt(ts, 10)
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignSession builds the cookie value "{unix}-{base64 hmac}" for a site.
func SignSession(secret, brand, site string, now time.Time) string {
	ts := now.Unix()
	return strconv.FormatInt(ts, 10) + "-" + sign(secret, sessionPayload(brand, site, ts))
}

// VerifySession reports whether value is a well formed, unexpired cookie
// signed with secret for exactly this brand and site.
func VerifySession(value, secret, brand, site string, ttl time.Duration, now time.Time) bool {
	if value == "" || secret == "" {
		return false
	}
	tsPart, sig, ok := strings.Cut(value, "-")
	if !ok || tsPart == "" || sig == "" {
		return false
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil || ts <= 0 {
		return false
	}

	issued := time.Unix(ts, 0)
	age := now.Sub(issued)
	if age >= ttl || age < -clockSkew {
		return false
	}

	return validate.TimingSafeEqual(sign(secret, sessionPayload(brand, site, ts)), sig)
}

// SessionCookie scopes the cookie to /{site} so one site's session is
// never sent to a sibling site on the same brand host.
func SessionCookie(name, site, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/" + site,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

// SessionState is the outcome of checking a request's cookie.
type SessionState int

const (
	Unauthenticated SessionState = iota
	Authenticated
)

// CheckRequest reads the named cookie from r and verifies it.
func CheckRequest(r *http.Request, cookieName, secret, brand, site string, ttl time.Duration, now time.Time) SessionState {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Unauthenticated
	}
	if VerifySession(c.Value, secret, brand, site, ttl, now) {
		return Authenticated
	}
	return Unauthenticated
}
