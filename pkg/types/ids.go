package types

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// ParticipantID identifies a page or component within the bus. IDs are
// caller-chosen, opaque strings; the only structural requirement is
// non-emptiness. Uniqueness among simultaneously registered participants is
// a registry invariant, not a property of the type.
type ParticipantID string

// NewParticipantID creates a ParticipantID from a string
func NewParticipantID(s string) ParticipantID {
	return ParticipantID(s)
}

// String returns the string representation of the ID
func (p ParticipantID) String() string {
	return string(p)
}

// IsEmpty returns true if the ID is empty
func (p ParticipantID) IsEmpty() bool {
	return string(p) == ""
}

// RequestID correlates an existence-check response to its request across a
// set of concurrent in-flight probes.
type RequestID string

// String returns the string representation of the request ID
func (r RequestID) String() string {
	return string(r)
}

// IsEmpty returns true if the request ID is empty
func (r RequestID) IsEmpty() bool {
	return string(r) == ""
}

// GenerateRequestID generates a globally unique request identifier
func GenerateRequestID() RequestID {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err == nil {
		return RequestID(hex.EncodeToString(b))
	}
	// Fallback to time-based ID
	return RequestID(hex.EncodeToString([]byte(time.Now().String())))
}
