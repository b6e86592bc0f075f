// Package auth implements the delegated-administrator registry: per owner,
// the set of accounts allowed to manage that owner's markets.
package auth

import (
	"sync"

	"github.com/streamwager/wagerd/internal/domain"
)

// Registry tracks administrator grants. There is no hierarchy: only the
// literal owner account manages its own set, which callers enforce by
// passing the authenticated caller as owner. Grant and Revoke are
// idempotent.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	grants map[string]map[string]bool // owner -> candidate -> granted
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{grants: make(map[string]map[string]bool)}
}

// Grant gives candidate administrator rights over owner's markets.
// Granting an existing administrator again is a no-op; the return value
// reports whether the set actually changed.
func (r *Registry) Grant(owner, candidate string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.grants[owner]
	if set == nil {
		set = make(map[string]bool)
		r.grants[owner] = set
	}
	if set[candidate] {
		return false
	}
	set[candidate] = true
	return true
}

// Revoke removes candidate's administrator rights over owner's markets.
// Revoking a non-administrator is a no-op; the return value reports whether
// the set actually changed.
func (r *Registry) Revoke(owner, candidate string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.grants[owner]
	if set == nil || !set[candidate] {
		return false
	}
	delete(set, candidate)
	return true
}

// IsGranted reports whether candidate holds an administrator grant from
// owner.
func (r *Registry) IsGranted(owner, candidate string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[owner][candidate]
}

// CanManage reports whether account may administer markets owned by owner:
// it is either the owner itself or a granted administrator.
func (r *Registry) CanManage(owner, account string) bool {
	if account == owner {
		return true
	}
	return r.IsGranted(owner, account)
}

// ListByOwner returns the current administrator set for owner.
func (r *Registry) ListByOwner(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.grants[owner]
	out := make([]string, 0, len(set))
	for candidate, granted := range set {
		if granted {
			out = append(out, candidate)
		}
	}
	return out
}

// Load seeds the registry from mirrored grants at startup. Revoked rows are
// skipped.
func (r *Registry) Load(grants []domain.Grant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range grants {
		if !g.Granted {
			continue
		}
		set := r.grants[g.Owner]
		if set == nil {
			set = make(map[string]bool)
			r.grants[g.Owner] = set
		}
		set[g.Candidate] = true
	}
}
