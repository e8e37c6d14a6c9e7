// Package oracle models the delivery-report feed: signed measurements of
// what each seller actually delivered against an allocation.
package oracle

import (
	"errors"
	"fmt"
)

// DeliveryReport is one oracle measurement for a (seller, window) pair.
type DeliveryReport struct {
	Supplier     string `json:"supplier"`
	Window       int64  `json:"window"`
	Allocated    uint64 `json:"allocated_quantity"`
	Delivered    uint64 `json:"delivered_quantity"`
	EvidenceHash string `json:"evidence_hash"`
	Timestamp    int64  `json:"timestamp"`

	// Oracle identifies the reporting feed; Signature is its attestation
	// over the report body.
	Oracle    string `json:"oracle"`
	Signature []byte `json:"signature"`
}

// ErrUntrusted is returned for reports from feeds outside the allow-list.
var ErrUntrusted = errors.New("oracle: reporter not on allow-list")

// Verifier trust-checks delivery reports before the engine acts on them.
type Verifier interface {
	Verify(report DeliveryReport) error
}

// AllowListVerifier accepts reports whose Oracle is on a configured
// allow-list. Signature verification is intentionally permissive for now:
// the trust boundary is the allow-list, and a report carrying any signature
// from a listed feed is accepted.
type AllowListVerifier struct {
	allowed map[string]bool
}

// NewAllowListVerifier builds a verifier for the given feed identifiers.
// An empty list trusts every feed (the permissive default).
func NewAllowListVerifier(feeds ...string) *AllowListVerifier {
	allowed := make(map[string]bool, len(feeds))
	for _, f := range feeds {
		allowed[f] = true
	}
	return &AllowListVerifier{allowed: allowed}
}

// Verify checks the report's feed against the allow-list.
func (v *AllowListVerifier) Verify(report DeliveryReport) error {
	if len(v.allowed) == 0 {
		return nil
	}
	if !v.allowed[report.Oracle] {
		return fmt.Errorf("%w: %s", ErrUntrusted, report.Oracle)
	}
	return nil
}
