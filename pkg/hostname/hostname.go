// Package hostname provides canonicalization and grammar validation for the
// domain names handled by the proxy and the control API.
package hostname

import "strings"

const maxHostnameLength = 253

// Canonical normalizes a domain name to its canonical form: lowercase,
// trimmed, fully qualified with a single trailing dot. This is the form
// stored and compared everywhere in the system.
func Canonical(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return ""
	}
	return domain + "."
}

// Bare returns the canonical name without its trailing dot, the form used
// when building URLs for the domain.
func Bare(domain string) string {
	return strings.TrimSuffix(domain, ".")
}

// Valid reports whether domain is an RFC-compatible hostname: total length
// 1-253, labels of 1-63 characters from [A-Za-z0-9-] that neither start nor
// end with a hyphen, at least one dot, and an alphabetic TLD label. A single
// trailing dot is accepted.
func Valid(domain string) bool {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" || len(domain) > maxHostnameLength {
		return false
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}

	for _, label := range labels {
		if !validLabel(label) {
			return false
		}
	}

	return validTLD(labels[len(labels)-1])
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		if !isAlphanumeric(label[i]) && label[i] != '-' {
			return false
		}
	}
	return true
}

// validTLD requires the final label to be letters only.
func validTLD(label string) bool {
	for i := 0; i < len(label); i++ {
		c := label[i]
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return len(label) > 0
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
