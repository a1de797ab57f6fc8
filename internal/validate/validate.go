// Package validate contains pure input validation helpers shared by the
// admin API and the public site routes.
package validate

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	MaxSlugLength = 63
	MaxPathLength = 512
)

var (
	slugRe  = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	colorRe = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
)

// Slug checks a brand or site name. label is used in the error message.
func Slug(value, label string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s is required", label)
	case len(value) > MaxSlugLength:
		return fmt.Errorf("%s must be at most %d characters", label, MaxSlugLength)
	case strings.ToLower(value) != value:
		return fmt.Errorf("%s must be lowercase", label)
	case !slugRe.MatchString(value):
		return fmt.Errorf("%s may only contain a-z, 0-9 and inner hyphens", label)
	}
	return nil
}

// FilePath validates a site-relative file path and returns it with any
// leading slashes removed. It is the only guard against keys escaping a
// site's storage prefix.
func FilePath(p string) (string, error) {
	if p == "" {
		return "", errors.New("path is empty")
	}
	if len(p) > MaxPathLength {
		return "", fmt.Errorf("path exceeds %d characters", MaxPathLength)
	}
	if strings.Contains(p, "..") {
		return "", errors.New("path must not contain '..'")
	}
	if strings.ContainsRune(p, '\\') {
		return "", errors.New("path must not contain backslashes")
	}
	for i := 0; i < len(p); i++ {
		if c := p[i]; c < 0x20 || c == 0x7f {
			return "", errors.New("path must not contain control characters")
		}
	}
	clean := strings.TrimLeft(p, "/")
	if clean == "" {
		return "", errors.New("path is empty")
	}
	return clean, nil
}

// CSSColor reports whether s is a #RGB, #RRGGBB or #RRGGBBAA literal.
func CSSColor(s string) bool {
	return colorRe.MatchString(s)
}

// BrandTokens rejects any token whose value is not a hex color literal.
// Keys are checked in sorted order so the reported key is stable.
func BrandTokens(tokens map[string]string) error {
	keys := make([]string, 0, len(tokens))
	for k := range tokens {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !CSSColor(tokens[k]) {
			return fmt.Errorf("brand_tokens.%s is not a hex color", k)
		}
	}
	return nil
}

// TimingSafeEqual compares a and b in constant time. Inputs of different
// length still go through a digest comparison so a length mismatch costs
// the same as a content mismatch.
func TimingSafeEqual(a, b string) bool {
	if len(a) != len(b) {
		ha := sha256.Sum256([]byte(a))
		hb := sha256.Sum256([]byte(b))
		subtle.ConstantTimeCompare(ha[:], hb[:])
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// DecodeBase64 decodes standard base64, reporting ok=false instead of an
// error on malformed input.
func DecodeBase64(s string) ([]byte, bool) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return b, true
}
