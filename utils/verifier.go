package utils

import (
	"net"

	"github.com/badoux/checkmail"
	"github.com/likexian/whois"
)

// MailboxVerification is the result of checking a configured account
// address before it is used for warm-up traffic.
type MailboxVerification struct {
	Email       string `json:"email"`
	FormatValid bool   `json:"format_valid"`
	HasMX       bool   `json:"has_mx"`
	WHOIS       string `json:"whois,omitempty"`
	Error       string `json:"error,omitempty"`
}

// VerifyMailbox runs syntax, MX and WHOIS checks against an address. The
// WHOIS lookup is best effort; its absence does not fail the verification.
func VerifyMailbox(email string) MailboxVerification {
	result := MailboxVerification{Email: email}

	// 1. Basic syntax validation using checkmail
	if err := checkmail.ValidateFormat(email); err != nil {
		result.Error = "invalid email format"
		return result
	}
	result.FormatValid = true

	// 2. MX record check
	domain := ExtractDomain(email)
	if mxRecords, err := net.LookupMX(domain); err != nil || len(mxRecords) == 0 {
		result.Error = "no MX records found for domain"
		return result
	}
	result.HasMX = true

	// 3. Domain registration info, best effort
	if whoisInfo, err := whois.Whois(domain); err == nil {
		result.WHOIS = whoisInfo
	}

	return result
}
