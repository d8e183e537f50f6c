package domain

import "time"

// Kind names a document collection.
type Kind string

// Document collections.
const (
	KindStakeCompute  Kind = "StakeComputeResult"
	KindClaimsCompute Kind = "ClaimsComputeResult"
	KindStakesPush    Kind = "StakesPushResult"
	KindClaimsPush    Kind = "ClaimsPushResult"
)

// String returns string representation.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if kind is a known collection.
func (k Kind) IsValid() bool {
	switch k {
	case KindStakeCompute, KindClaimsCompute, KindStakesPush, KindClaimsPush:
		return true
	}
	return false
}

// Document is the stored envelope of every result.
// ID is a content checksum for compute results and the push key for push results.
type Document[T any] struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	ConfigChecksum string    `json:"configChecksum"`
	Data           T         `json:"data"`
}

// Comparable reports whether two documents were produced under the same configuration.
func Comparable[A, B any](a *Document[A], b *Document[B]) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ConfigChecksum == b.ConfigChecksum
}

// StakeDocument is a stored StakeComputeResult.
type StakeDocument = Document[*StakeComputeResult]

// ClaimsDocument is a stored ClaimsComputeResult.
type ClaimsDocument = Document[*ClaimsComputeResult]

// PushDocument is a stored PushResult.
type PushDocument = Document[*PushResult]
