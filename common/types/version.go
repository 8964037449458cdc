package types

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Timestamp is the totally ordered component of a version.
type Timestamp uint64

// Before reports whether t is strictly older than other.
func (t Timestamp) Before(other Timestamp) bool {
	return t < other
}

// String implements fmt.Stringer.
func (t Timestamp) String() string {
	return fmt.Sprintf("ts(%d)", uint64(t))
}

// MinTimestamp returns the older of two timestamps.
func MinTimestamp(a, b Timestamp) Timestamp {
	if a < b {
		return a
	}
	return b
}

// BranchID identifies a branch in the version history DAG. The zero value is
// the primordial branch that every store starts on.
type BranchID [16]byte

// NewBranchID generates a fresh branch id.
func NewBranchID() BranchID {
	return BranchID(uuid.New())
}

// IsZero reports whether the id is the primordial branch.
func (b BranchID) IsZero() bool {
	return b == BranchID{}
}

// String implements fmt.Stringer.
func (b BranchID) String() string {
	return hex.EncodeToString(b[:4])
}

// Version is an opaque tag on a branch of the history DAG. Versions on the
// same branch are ordered by timestamp; versions on different branches are
// related only through the branch history.
type Version struct {
	Branch    BranchID  `cbor:"1,keyasint,omitempty"`
	Timestamp Timestamp `cbor:"2,keyasint,omitempty"`
}

// ZeroVersion is the version of a store that has never been written to.
func ZeroVersion() Version {
	return Version{}
}

// Equal reports whether two versions are identical tags.
func (v Version) Equal(other Version) bool {
	return v == other
}

// String implements fmt.Stringer.
func (v Version) String() string {
	return fmt.Sprintf("%s@%d", v.Branch, uint64(v.Timestamp))
}
