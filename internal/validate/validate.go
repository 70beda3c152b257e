package validate

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// Indonesian postal code: 5 digits
	reZIP     = regexp.MustCompile(`^[0-9]{5}$`)
	reEmail   = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	reID      = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	rePhone   = regexp.MustCompile(`^\+?[0-9][0-9 -]{6,19}$`)
	rePromo   = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)
	reCountry = regexp.MustCompile(`^[A-Z]{2}$`)
)

const (
	MaxQty        = 99
	MaxReviewBody = 2000
	MinReviewBody = 10
)

func PostalCode(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, reZIP.MatchString(s)
}

func Email(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || len(s) > 254 {
		return "", false
	}
	return s, reEmail.MatchString(s)
}

// ID validates a resource identifier (product, cart line, address, review ids).
func ID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && reID.MatchString(s)
}

// Name validates a displayable full name.
func Name(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > 100 {
		return "", false
	}
	return s, true
}

// Line validates a free-text address line. Empty is allowed only when optional.
func Line(s string, optional bool) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", optional
	}
	return s, utf8.RuneCountInString(s) <= 200
}

func Phone(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, rePhone.MatchString(s)
}

// Country accepts an ISO 3166 alpha-2 code; empty defaults later.
func Country(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	return s, s == "" || reCountry.MatchString(s)
}

// PromoCode normalises to upper case.
func PromoCode(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	return s, rePromo.MatchString(s)
}

func Rating(n int) bool { return n >= 1 && n <= 5 }

func ReviewBody(s string) (string, bool) {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	return s, n >= MinReviewBody && n <= MaxReviewBody
}

// Qty parses a quantity string, clamping to [1, MaxQty].
func Qty(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 1
	}
	if n > MaxQty {
		return MaxQty
	}
	return n
}

// Password enforces the upstream's length window so obviously bad logins
// never leave the client.
func Password(s string) bool {
	l := len(s)
	return l >= 8 && l <= 72
}
