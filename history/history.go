// Package history tracks the branch-history DAG of store versions and
// resolves common ancestors between them.
package history

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/rangemap"
)

// Branch is one node of the version DAG: a branch id together with the
// per-sub-range versions it forked from.
type Branch struct {
	ID     types.BranchID              `cbor:"1,keyasint,omitempty"`
	Origin rangemap.Map[types.Version] `cbor:"2,keyasint,omitempty"`
}

// Store is a read-only view of a branch history.
type Store interface {
	// Branch returns the branch record for the given id.
	Branch(id types.BranchID) (Branch, error)
}

// Manager owns the locally known part of the branch history DAG.
type Manager struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	branches map[types.BranchID]Branch
}

// NewManager creates an empty branch history manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger,
		branches: make(map[types.BranchID]Branch),
	}
}

// AddBranch records a branch. Re-adding an already known branch is a no-op.
func (m *Manager) AddBranch(b Branch) error {
	if b.ID.IsZero() {
		return fmt.Errorf("add branch: zero branch id")
	}
	if b.Origin.IsEmpty() {
		return fmt.Errorf("add branch %s: empty origin", b.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[b.ID]; !ok {
		m.branches[b.ID] = b
		m.logger.Debug("recorded branch",
			zap.Stringer("branch", b.ID),
			zap.Stringer("origin", b.Origin.Domain()))
	}
	return nil
}

// Branch implements Store.
func (m *Manager) Branch(id types.BranchID) (Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.branches[id]
	if !ok {
		return Branch{}, fmt.Errorf("unknown branch %s", id)
	}
	return b, nil
}

// Export returns every known branch, for shipping to a peer.
func (m *Manager) Export() []Branch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Branch, 0, len(m.branches))
	for _, b := range m.branches {
		out = append(out, b)
	}
	return out
}

// Import records every branch in the list.
func (m *Manager) Import(branches []Branch) error {
	for _, b := range branches {
		if err := m.AddBranch(b); err != nil {
			return err
		}
	}
	return nil
}

// Combiner is a Store that resolves branches from a primary store first and
// falls back to a secondary one, typically a peer-supplied history.
type Combiner struct {
	Primary  Store
	Fallback Store
}

// Branch implements Store.
func (c Combiner) Branch(id types.BranchID) (Branch, error) {
	if b, err := c.Primary.Branch(id); err == nil {
		return b, nil
	}
	return c.Fallback.Branch(id)
}

// MapStore is a Store over a plain branch list, used for peer-supplied
// histories that are not worth a full Manager.
type MapStore map[types.BranchID]Branch

// NewMapStore builds a MapStore from a branch list.
func NewMapStore(branches []Branch) MapStore {
	m := make(MapStore, len(branches))
	for _, b := range branches {
		m[b.ID] = b
	}
	return m
}

// Branch implements Store.
func (m MapStore) Branch(id types.BranchID) (Branch, error) {
	b, ok := m[id]
	if !ok {
		return Branch{}, fmt.Errorf("unknown branch %s", id)
	}
	return b, nil
}

// chain is the versions along one walk from a version back to the primordial
// branch, most recent first.
type chain []types.Version

// chains resolves the ancestry of v over r, split per sub-range wherever the
// branch origins split it.
func chains(h Store, v types.Version, r types.KeyRange) (rangemap.Map[chain], error) {
	if r.IsEmpty() {
		return rangemap.Empty[chain](), nil
	}
	if v.Branch.IsZero() {
		return rangemap.New(r, chain{v}), nil
	}
	br, err := h.Branch(v.Branch)
	if err != nil {
		return rangemap.Empty[chain](), err
	}
	origin := br.Origin.Mask(r)
	if origin.IsEmpty() || !origin.Domain().Equal(r) {
		return rangemap.Empty[chain](), fmt.Errorf(
			"branch %s does not cover %s", v.Branch, r)
	}
	out := rangemap.Empty[chain]()
	for _, e := range origin.Entries() {
		sub, err := chains(h, e.Value, e.Range)
		if err != nil {
			return rangemap.Empty[chain](), err
		}
		sub = rangemap.Transform(sub, func(c chain) chain {
			return append(chain{v}, c...)
		})
		out = out.Concat(sub)
	}
	return out, nil
}

// commonOfChains finds the greatest common ancestor of two linear ancestry
// chains. Chains that share no branch meet at the zero version.
func commonOfChains(a, b chain) types.Version {
	for _, x := range a {
		for _, y := range b {
			if x.Branch == y.Branch {
				return types.Version{
					Branch:    x.Branch,
					Timestamp: types.MinTimestamp(x.Timestamp, y.Timestamp),
				}
			}
		}
	}
	return types.ZeroVersion()
}

// FindCommon computes, per sub-range of r, the greatest version that is an
// ancestor of both a and b.
func FindCommon(h Store, a, b types.Version, r types.KeyRange) (rangemap.Map[types.Version], error) {
	if r.IsEmpty() {
		return rangemap.Empty[types.Version](), nil
	}
	if a.Branch == b.Branch {
		return rangemap.New(r, types.Version{
			Branch:    a.Branch,
			Timestamp: types.MinTimestamp(a.Timestamp, b.Timestamp),
		}), nil
	}
	ca, err := chains(h, a, r)
	if err != nil {
		return rangemap.Empty[types.Version](), err
	}
	cb, err := chains(h, b, r)
	if err != nil {
		return rangemap.Empty[types.Version](), err
	}
	var entries []rangemap.Entry[types.Version]
	for _, ea := range ca.Entries() {
		for _, eb := range cb.Entries() {
			sub := ea.Range.Intersect(eb.Range)
			if sub.IsEmpty() {
				continue
			}
			entries = append(entries, rangemap.Entry[types.Version]{
				Range: sub,
				Value: commonOfChains(ea.Value, eb.Value),
			})
		}
	}
	return rangemap.FromEntries(entries)
}
