package model

import (
	"fmt"
	"net"
	"strings"
)

const (
	MinSubdomainLength = 3
	MaxSubdomainLength = 63
)

// ReservedSubdomains is the single reserved-word set shared by signup,
// subdomain availability, the resolver and the edge router.
var ReservedSubdomains = map[string]struct{}{
	"www":        {},
	"admin":      {},
	"superadmin": {},
	"api":        {},
	"app":        {},
	"auth":       {},
	"login":      {},
	"logout":     {},
	"signup":     {},
	"register":   {},
	"dashboard":  {},
	"pages":      {},
	"posts":      {},
	"assets":     {},
	"static":     {},
	"cdn":        {},
	"mail":       {},
	"smtp":       {},
	"ftp":        {},
	"help":       {},
	"support":    {},
	"status":     {},
	"blog":       {},
	"docs":       {},
	"billing":    {},
	"payments":   {},
	"metrics":    {},
	"healthz":    {},
	"root":       {},
}

func IsReserved(label string) bool {
	_, ok := ReservedSubdomains[strings.ToLower(label)]
	return ok
}

// ValidateSubdomain returns a human readable reason when label cannot be claimed.
func ValidateSubdomain(label string) error {
	if label != strings.ToLower(label) {
		return fmt.Errorf("subdomain must be lowercase")
	}
	if len(label) < MinSubdomainLength || len(label) > MaxSubdomainLength {
		return fmt.Errorf("subdomain must be between %d and %d characters", MinSubdomainLength, MaxSubdomainLength)
	}
	for _, c := range label {
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' {
			return fmt.Errorf("subdomain may only contain a-z, 0-9 and hyphens")
		}
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return fmt.Errorf("subdomain cannot start or end with a hyphen")
	}
	if strings.Contains(label, "--") {
		return fmt.Errorf("subdomain cannot contain consecutive hyphens")
	}
	if IsReserved(label) {
		return fmt.Errorf("subdomain %q is reserved", label)
	}
	return nil
}

// HostWithoutPort lowercases host and strips any port.
func HostWithoutPort(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

// NormalizeHost strips the port and a leading "www.".
func NormalizeHost(host string) string {
	return strings.TrimPrefix(HostWithoutPort(host), "www.")
}

// ValidateCustomDomain accepts a bare hostname with at least two labels that is
// not part of the platform's own domain.
func ValidateCustomDomain(domain, baseDomain string) error {
	if strings.ContainsAny(domain, ":/?# ") {
		return fmt.Errorf("domain must be a bare hostname")
	}
	d := NormalizeHost(domain)
	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return fmt.Errorf("domain must have at least two labels")
	}
	for _, l := range labels {
		if l == "" || len(l) > MaxSubdomainLength {
			return fmt.Errorf("domain %q is not a valid hostname", domain)
		}
		for _, c := range l {
			if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' {
				return fmt.Errorf("domain %q is not a valid hostname", domain)
			}
		}
	}
	if baseDomain != "" && (d == baseDomain || strings.HasSuffix(d, "."+baseDomain)) {
		return fmt.Errorf("domain cannot be part of %s", baseDomain)
	}
	return nil
}
