package reconcile

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	slugFallbackBase = "casal"
	slugSuffixLength = 5
	slugMaxAttempts  = 10
	slugAlphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// SlugBase derives the sanitized base of a public URL slug from a couple
// name: lowercased, diacritics stripped via NFD decomposition, anything
// outside [a-z0-9 -] dropped, whitespace runs collapsed to underscores.
// Names that reduce to nothing fall back to a fixed token.
func SlugBase(coupleName string) string {
	decomposed := norm.NFD.String(strings.ToLower(coupleName))

	var b strings.Builder
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark left over from decomposition, drop it
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	base := strings.Join(strings.Fields(b.String()), "_")
	base = strings.Trim(base, "_-")
	if base == "" {
		return slugFallbackBase
	}
	return base
}

// GenerateSlug produces a unique slug for a couple name. The random
// suffix is regenerated on collision; after the attempt budget a
// timestamp-derived suffix guarantees termination.
func GenerateSlug(coupleName string, exists func(string) (bool, error)) (string, error) {
	base := SlugBase(coupleName)

	for i := 0; i < slugMaxAttempts; i++ {
		candidate := base + "_" + randomSuffix(slugSuffixLength)
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	return base + "_" + strconv.FormatInt(time.Now().UnixNano(), 36), nil
}

func randomSuffix(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively unreachable; degrade to a
		// time-derived suffix rather than panic in the webhook path
		s := strconv.FormatInt(time.Now().UnixNano(), 36)
		if len(s) > length {
			s = s[len(s)-length:]
		}
		return s
	}
	for i, b := range buf {
		buf[i] = slugAlphabet[int(b)%len(slugAlphabet)]
	}
	return string(buf)
}
