package utils

import "strings"

// NormalizeAddress reduces an email address to a comparable form: angle
// brackets and surrounding whitespace stripped, lower-cased. A display name
// in front of the brackets is discarded.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if start := strings.LastIndex(addr, "<"); start != -1 {
		if end := strings.Index(addr[start:], ">"); end != -1 {
			addr = addr[start+1 : start+end]
		} else {
			addr = addr[start+1:]
		}
	}
	addr = strings.Trim(addr, "<> ")
	return strings.ToLower(addr)
}

// SameAddress reports whether two addresses refer to the same mailbox under
// normalized comparison.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// ExtractDomain returns the part after the @, or the input unchanged when no
// @ is present.
func ExtractDomain(email string) string {
	email = NormalizeAddress(email)
	if at := strings.LastIndex(email, "@"); at != -1 {
		return email[at+1:]
	}
	return email
}
