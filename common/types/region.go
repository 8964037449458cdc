package types

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Region is the unit of shard plus key space a backfill session covers: a hash
// shard [BegHash, EndHash) combined with a key range. EndHash equal to
// MaxUint64 is treated as inclusive of the maximum hash value.
type Region struct {
	BegHash uint64   `cbor:"1,keyasint,omitempty"`
	EndHash uint64   `cbor:"2,keyasint,omitempty"`
	Keys    KeyRange `cbor:"3,keyasint,omitempty"`
}

// FullRegion returns the region covering every shard and every key.
func FullRegion() Region {
	return Region{BegHash: 0, EndHash: math.MaxUint64, Keys: FullKeyRange()}
}

// RegionFrom returns the full-shard region over the given key range.
func RegionFrom(keys KeyRange) Region {
	return Region{BegHash: 0, EndHash: math.MaxUint64, Keys: keys}
}

// HashOfKey maps a key onto the shard hash space.
func HashOfKey(k Key) uint64 {
	return xxhash.Sum64(k)
}

// ContainsHash reports whether the shard hash falls inside the region's hash
// interval.
func (r Region) ContainsHash(h uint64) bool {
	if h < r.BegHash {
		return false
	}
	return h < r.EndHash || r.EndHash == math.MaxUint64
}

// Contains reports whether the key belongs to the region, both by shard hash
// and by key range.
func (r Region) Contains(k Key) bool {
	return r.ContainsHash(HashOfKey(k)) && r.Keys.Contains(k)
}

// IsEmpty reports whether the region covers no keys.
func (r Region) IsEmpty() bool {
	return r.BegHash >= r.EndHash || r.Keys.IsEmpty()
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("{hash [%#x, %#x) keys %s}", r.BegHash, r.EndHash, r.Keys)
}
