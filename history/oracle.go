package history

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/rangemap"
)

const defaultOracleCacheSize = 1024

// Oracle answers common-ancestor queries against a branch history store,
// caching resolutions for as long as the Oracle lives: a (version, version,
// range) query repeated on the same Oracle is answered from the cache.
type Oracle struct {
	h     Store
	cache *lru.Cache[string, rangemap.Map[types.Version]]
}

// NewOracle creates an Oracle over the given history store.
func NewOracle(h Store) *Oracle {
	cache, err := lru.New[string, rangemap.Map[types.Version]](defaultOracleCacheSize)
	if err != nil {
		panic("history: " + err.Error())
	}
	return &Oracle{h: h, cache: cache}
}

func cacheKey(a, b types.Version, r types.KeyRange) string {
	return fmt.Sprintf("%x:%d|%x:%d|%x:%s",
		a.Branch[:], a.Timestamp, b.Branch[:], b.Timestamp, r.Left, r.Right)
}

// FindCommon is FindCommon over the underlying store, memoized.
func (o *Oracle) FindCommon(a, b types.Version, r types.KeyRange) (rangemap.Map[types.Version], error) {
	key := cacheKey(a, b, r)
	if m, ok := o.cache.Get(key); ok {
		return m, nil
	}
	m, err := FindCommon(o.h, a, b, r)
	if err != nil {
		return rangemap.Empty[types.Version](), err
	}
	o.cache.Add(key, m)
	return m, nil
}
