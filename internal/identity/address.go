package identity

import (
	"strings"
)

const addressOctets = 6

// NormalizeAddress returns the canonical form of a hardware address, upper case
// hex octets separated by dashes.
//
// Colon, dash and dot separated forms as well as the bare 12 digit form are accepted,
// false is returned for anything that does not contain exactly six octets.
func NormalizeAddress(address string) (string, bool) {
	hex := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '.', ' ':
			return -1
		default:
			return r
		}
	}, strings.TrimSpace(address))

	if len(hex) != addressOctets*2 {
		return "", false
	}

	hex = strings.ToUpper(hex)
	for _, r := range hex {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'F') {
			return "", false
		}
	}

	var b strings.Builder
	for i := 0; i < len(hex); i += 2 {
		if i > 0 {
			b.WriteByte('-')
		}

		b.WriteString(hex[i : i+2])
	}

	return b.String(), true
}

// CanonicalOrRaw returns the canonical address when the given value parses,
// the input is returned as is otherwise.
func CanonicalOrRaw(address string) string {
	if canonical, ok := NormalizeAddress(address); ok {
		return canonical
	}

	return address
}
