// Package domains proves ownership of a custom domain through a DNS TXT record.
package domains

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/myeasypage/easypage/pkg/rand"
)

const (
	challengeLabel = "_easypage-challenge"
	valuePrefix    = "easypage-verification="
	tokenLength    = 32
)

// TXTLookup resolves the TXT records of a name. *net.Resolver satisfies it.
type TXTLookup interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type Challenge struct {
	Domain     string
	RecordName string
	// Value is the exact TXT value the owner must publish.
	Value string
	Token string
}

type Verifier struct {
	lookup  TXTLookup
	timeout time.Duration
}

func NewVerifier(lookup TXTLookup) *Verifier {
	if lookup == nil {
		lookup = &net.Resolver{}
	}
	return &Verifier{lookup: lookup, timeout: 5 * time.Second}
}

// NewChallenge creates a fresh token for domain.
func NewChallenge(domain string) Challenge {
	return ChallengeFor(domain, rand.StringWithSmall(tokenLength))
}

// ChallengeFor rebuilds the challenge of a stored token.
func ChallengeFor(domain, token string) Challenge {
	return Challenge{
		Domain:     domain,
		RecordName: fmt.Sprintf("%s.%s", challengeLabel, domain),
		Value:      valuePrefix + token,
		Token:      token,
	}
}

// Check reports whether the challenge record is published. reason explains a
// negative result; err is only set when the lookup itself failed.
func (v *Verifier) Check(ctx context.Context, c Challenge) (ok bool, reason string, err error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	records, err := v.lookup.LookupTXT(ctx, c.RecordName)
	if err != nil {
		if dnsErr, isDNS := err.(*net.DNSError); isDNS && dnsErr.IsNotFound {
			return false, "TXT record not found for " + c.RecordName, nil
		}
		return false, "", fmt.Errorf("looking up %s: %w", c.RecordName, err)
	}

	for _, rec := range records {
		if strings.TrimSpace(strings.Trim(rec, `"`)) == c.Value {
			return true, "", nil
		}
	}
	return false, fmt.Sprintf("TXT record found for %s but no value matches %s", c.RecordName, c.Value), nil
}
