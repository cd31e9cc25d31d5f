/*
Workload Identity
Validates SPIFFE IDs presented on service-to-service access requests
*/

package identity

import (
	"fmt"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// WorkloadValidator validates SPIFFE workload identities against an
// allow-list of trust domains. Validation here is syntactic plus trust
// domain membership; SVID verification belongs to the mTLS layer in
// front of the service.
type WorkloadValidator struct {
	trusted map[string]bool
}

// NewWorkloadValidator creates a validator. An empty domain list trusts
// nothing, so every workload request reads as untrusted.
func NewWorkloadValidator(trustDomains []string) *WorkloadValidator {
	trusted := make(map[string]bool, len(trustDomains))
	for _, td := range trustDomains {
		trusted[td] = true
	}
	return &WorkloadValidator{trusted: trusted}
}

// Validate checks that the string is a well-formed SPIFFE ID.
func (v *WorkloadValidator) Validate(id string) error {
	if _, err := spiffeid.FromString(id); err != nil {
		return fmt.Errorf("invalid SPIFFE ID: %w", err)
	}
	return nil
}

// Trusted reports whether the workload's trust domain is on the
// allow-list. Malformed IDs are never trusted.
func (v *WorkloadValidator) Trusted(id string) bool {
	parsed, err := spiffeid.FromString(id)
	if err != nil {
		return false
	}
	return v.trusted[parsed.TrustDomain().String()]
}

// WorkloadID builds the SPIFFE ID for a service in a trust domain.
func WorkloadID(trustDomain, service string) string {
	return fmt.Sprintf("spiffe://%s/workload/%s", trustDomain, service)
}
