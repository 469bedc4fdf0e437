// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package webdav

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LockScope distinguishes exclusive from shared write locks. RFC 4918 also
// defines a shared lock scope; this server only ever grants write locks, so
// Scope only needs to track exclusive-vs-shared, not lock type.
type LockScope int

const (
	ScopeExclusive LockScope = iota
	ScopeShared
)

// DepthInfinity marks a lock or request as covering an entire subtree.
const DepthInfinity = -1

// Lock is an active WebDAV write lock rooted at a path.
type Lock struct {
	token   string // "urn:uuid:<v4>", 45 characters
	path    string
	scope   LockScope
	depth   int // 0 or DepthInfinity; depth 1 is rejected by callers
	owner   string // verbatim XML from the lockinfo request body
	expires int64  // absolute monotonic seconds; 0 means infinite
	// lockNull is true if this lock created the resource it locks (a
	// "lock-null resource"). If the resource is still empty when the lock
	// is freed, the lock manager removes it, mirroring phodav's cleanup of
	// lock-null resources whose lock expired without ever being PUT.
	lockNull bool
}

// Token returns the lock's urn:uuid token.
func (l *Lock) Token() string { return l.token }

// Owner returns the verbatim owner XML supplied when the lock was created.
func (l *Lock) Owner() string { return l.owner }

// Depth returns the lock's depth: 0 or DepthInfinity.
func (l *Lock) Depth() int { return l.depth }

// Scope returns the lock's scope.
func (l *Lock) Scope() LockScope { return l.scope }

// Path returns the path the lock is rooted at.
func (l *Lock) Path() string { return l.path }

// RemainingSeconds returns the seconds left before the lock expires, for
// use in a Timeout: Second-<n> response header. A zero expiry means the
// lock never times out.
func (l *Lock) RemainingSeconds(now time.Time) int64 {
	if l.expires == 0 {
		return 0
	}
	rem := l.expires - now.Unix()
	if rem < 0 {
		return 0
	}
	return rem
}

func newLockToken() string {
	return "urn:uuid:" + uuid.New().String()
}

// LockManager grants, refreshes, and releases write locks, and answers
// whether a path is currently lockable by a given token. All mutation runs
// under a single mutex, which stands in for the single-threaded ordering
// the cooperative event loop this design is modeled on would otherwise
// provide: lock decisions are always made against a consistent snapshot.
type LockManager struct {
	mu       sync.Mutex
	registry *PathRegistry
	onExpire func(path string, l *Lock) // lock-null cleanup hook
}

// NewLockManager returns an empty lock manager. onExpire, if non-nil, is
// invoked whenever a lock is freed, by explicit UNLOCK (after the lock
// manager's mutex is released) or by an expiry sweep (with the mutex still
// held), so the caller can clean up a lock-null resource if the lock's
// path was never written to.
func NewLockManager(onExpire func(path string, l *Lock)) *LockManager {
	return &LockManager{
		registry: newPathRegistry(),
		onExpire: onExpire,
	}
}

// scopeCompatible implements the compatibility table from RFC 4918 §7:
// exclusive/exclusive and exclusive/shared both conflict; only
// shared/shared is compatible.
func scopeCompatible(a, b LockScope) bool {
	return a == ScopeShared && b == ScopeShared
}

// pathHasConflict walks from the root down to path (root-first, so an
// ancestor's lock is always discovered before path's own) and returns the
// first lock that would conflict with a new lock of the given scope
// covering [path, path+depth].
func (lm *LockManager) pathHasConflict(path string, depth int, scope LockScope) *Lock {
	for _, anc := range ancestors(path) {
		st := lm.registry.get(anc, false)
		if st == nil {
			continue
		}
		for _, l := range st.locks {
			if lm.expiredLocked(l) {
				continue
			}
			// An ancestor lock only conflicts if it covers path: either
			// it is at path itself, or it has infinite depth.
			if anc != path && l.depth != DepthInfinity {
				continue
			}
			if !scopeCompatible(l.scope, scope) {
				return l
			}
		}
	}
	// A lock further down the tree also conflicts if our new lock would
	// cover it (depth infinity locking a subtree that already has a lock
	// in it).
	if depth == DepthInfinity {
		for p, st := range lm.registry.states {
			if _, ok := isAncestor(path, p, DepthInfinity); !ok {
				continue
			}
			for _, l := range st.locks {
				if lm.expiredLocked(l) {
					continue
				}
				if !scopeCompatible(l.scope, scope) {
					return l
				}
			}
		}
	}
	return nil
}

func (lm *LockManager) expiredLocked(l *Lock) bool {
	if l.expires == 0 {
		return false
	}
	return time.Now().Unix() >= l.expires
}

// CreateLock grants a new lock rooted at path, provided no existing lock
// conflicts per the scope-compatibility table. depth must be 0 or
// DepthInfinity; a depth-1 request must be rejected by the caller before
// reaching here. timeout<=0 means infinite.
func (lm *LockManager) CreateLock(ctx context.Context, path string, scope LockScope, depth int, owner string, timeout time.Duration, lockNull bool) (*Lock, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	path = normalizePath(path)
	lm.sweepExpiredLocked()

	if conflict := lm.pathHasConflict(path, depth, scope); conflict != nil {
		return nil, ErrLocked
	}

	l := &Lock{
		token:    newLockToken(),
		path:     path,
		scope:    scope,
		depth:    depth,
		owner:    owner,
		lockNull: lockNull,
	}
	if timeout > 0 {
		l.expires = time.Now().Add(timeout).Unix()
	}

	st := lm.registry.get(path, false)
	if st == nil {
		st = &PathState{path: path}
		lm.registry.states[path] = st
	}
	st.locks = append(st.locks, l)
	return l, nil
}

// RefreshLock extends an existing lock's timeout and returns it.
func (lm *LockManager) RefreshLock(ctx context.Context, token string, timeout time.Duration) (*Lock, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.sweepExpiredLocked()
	l := lm.findLocked(token)
	if l == nil {
		return nil, ErrPreconditionFail
	}
	if timeout > 0 {
		l.expires = time.Now().Add(timeout).Unix()
	} else {
		l.expires = 0
	}
	return l, nil
}

// findLocked returns the Lock for token, without locking (caller must hold mu).
func (lm *LockManager) findLocked(token string) *Lock {
	for _, st := range lm.registry.states {
		for _, l := range st.locks {
			if l.token == token {
				return l
			}
		}
	}
	return nil
}

// Find returns the lock identified by token, or nil.
func (lm *LockManager) Find(token string) *Lock {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.findLocked(token)
}

// PathLock returns the lock (if any) covering path, walking ancestors
// root-first so a collection lock above path is found.
func (lm *LockManager) PathLock(path string) *Lock {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	path = normalizePath(path)
	for _, anc := range ancestors(path) {
		st := lm.registry.get(anc, false)
		if st == nil {
			continue
		}
		for _, l := range st.locks {
			if lm.expiredLocked(l) {
				continue
			}
			if anc != path && l.depth != DepthInfinity {
				continue
			}
			return l
		}
	}
	return nil
}

// PathHasOtherLocks reports whether path is covered by any non-expired lock
// other than one whose token is in exclude.
func (lm *LockManager) PathHasOtherLocks(path string, exclude map[string]bool) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	path = normalizePath(path)
	for _, anc := range ancestors(path) {
		st := lm.registry.get(anc, false)
		if st == nil {
			continue
		}
		for _, l := range st.locks {
			if lm.expiredLocked(l) {
				continue
			}
			if anc != path && l.depth != DepthInfinity {
				continue
			}
			if exclude[l.token] {
				continue
			}
			return true
		}
	}
	return false
}

// Rename moves any locks rooted at oldPath so they follow their resource
// to newPath, used by MOVE.
func (lm *LockManager) Rename(oldPath, newPath string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.registry.rename(oldPath, newPath)
}

// ClearLockNull marks every lock rooted exactly at path as no longer a
// lock-null resource once its size is non-zero, so a later expiry sweep
// does not delete a file the client has since written real content into.
func (lm *LockManager) ClearLockNull(path string, size int64) {
	if size == 0 {
		return
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	path = normalizePath(path)
	if st, ok := lm.registry.states[path]; ok {
		for _, l := range st.locks {
			l.lockNull = false
		}
	}
}

// Unlock releases the lock identified by token. If the lock manager was
// constructed with an onExpire hook, it is invoked after the lock is
// removed from the registry.
func (lm *LockManager) Unlock(token string) error {
	lm.mu.Lock()
	var (
		removed *Lock
		path    string
	)
	for p, st := range lm.registry.states {
		for i, l := range st.locks {
			if l.token == token {
				removed = l
				path = p
				st.locks = append(st.locks[:i], st.locks[i+1:]...)
				lm.registry.prune(st)
				break
			}
		}
		if removed != nil {
			break
		}
	}
	lm.mu.Unlock()

	if removed == nil {
		return ErrConflict
	}
	if lm.onExpire != nil {
		lm.onExpire(path, removed)
	}
	return nil
}

// sweepExpiredLocked removes every timed-out lock across the whole
// registry. Called with mu held, at the top of every mutating operation,
// so expired locks never block a new lock request or linger past their
// nominal timeout.
func (lm *LockManager) sweepExpiredLocked() {
	var expired []struct {
		path string
		l    *Lock
	}
	for p, st := range lm.registry.states {
		kept := st.locks[:0]
		for _, l := range st.locks {
			if lm.expiredLocked(l) {
				expired = append(expired, struct {
					path string
					l    *Lock
				}{p, l})
				continue
			}
			kept = append(kept, l)
		}
		st.locks = kept
		lm.registry.prune(st)
	}
	if lm.onExpire != nil {
		for _, e := range expired {
			lm.onExpire(e.path, e.l)
		}
	}
}

// StartSweeper runs a periodic expiry sweep until ctx is done, driven by
// an explicit cancellation context instead of a dedicated stop channel.
func (lm *LockManager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				lm.mu.Lock()
				lm.sweepExpiredLocked()
				lm.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
}
