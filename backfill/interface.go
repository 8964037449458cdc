package backfill

import (
	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/rangemap"
)

// versionOracle resolves common ancestors in the version DAG. Implemented by
// history.Oracle over the combined local and sink-supplied histories.
type versionOracle interface {
	FindCommon(a, b types.Version, r types.KeyRange) (rangemap.Map[types.Version], error)
}
