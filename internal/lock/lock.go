// Package lock implements the pessimistic per-rule edit lock: owner,
// acquisition time, expiry, and an admin force-override, shadowed by a
// read-through cache on the hot CurrentOwner path.
package lock

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/r3e-labs/brm-core/internal/cache"
	"github.com/r3e-labs/brm-core/internal/model"
	"github.com/r3e-labs/brm-core/internal/store"
	brmerrors "github.com/r3e-labs/brm-core/pkg/errors"
	"github.com/r3e-labs/brm-core/pkg/logger"
	"github.com/r3e-labs/brm-core/pkg/metrics"
)

// ownerCacheSep separates the owner and expiry fields packed into an
// OwnerCache value, so a cache hit on CurrentOwner carries the real
// expiry instead of a zero time.
const ownerCacheSep = "\x1f"

func encodeOwnerCacheValue(owner string, expiresAt time.Time) string {
	return owner + ownerCacheSep + strconv.FormatInt(expiresAt.UnixNano(), 10)
}

func decodeOwnerCacheValue(v string) (owner string, expiresAt time.Time, ok bool) {
	idx := strings.LastIndex(v, ownerCacheSep)
	if idx < 0 {
		return v, time.Time{}, true
	}
	nanos, err := strconv.ParseInt(v[idx+len(ownerCacheSep):], 10, 64)
	if err != nil {
		return v[:idx], time.Time{}, true
	}
	return v[:idx], time.Unix(0, nanos), true
}

// Manager grants, releases, and inspects per-rule locks.
type Manager struct {
	store   store.Store
	cache   cache.OwnerCache
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New constructs a Manager. cache may be an *cache.InMemoryCache or an
// *cache.RedisCache; both satisfy cache.OwnerCache.
func New(s store.Store, c cache.OwnerCache, log *logger.Logger, m *metrics.Metrics) *Manager {
	return &Manager{store: s, cache: c, log: log, metrics: m}
}

// HeldBy describes the current holder of a rule's lock, returned when
// Acquire fails because someone else already holds it.
type HeldBy struct {
	User      string
	ExpiresAt time.Time
}

// Acquire attempts to claim the rule's lock for user. If no active,
// unexpired lock exists it is granted; otherwise the current holder is
// returned.
func (m *Manager) Acquire(ctx context.Context, ruleID int64, user string, ttl time.Duration) (acquired bool, held *HeldBy, err error) {
	now := time.Now()

	existing, err := m.store.GetLock(ctx, ruleID)
	if err != nil {
		return false, nil, err
	}
	if existing != nil && existing.ActiveLock && !existing.Expired(now) {
		m.recordContention(false)
		return false, &HeldBy{User: existing.LockedBy, ExpiresAt: existing.ExpiryAt}, nil
	}

	l := &model.Lock{
		RuleID:     ruleID,
		LockedBy:   user,
		LockedAt:   now,
		ExpiryAt:   now.Add(ttl),
		ForceLock:  false,
		ActiveLock: true,
	}
	if err := m.store.UpsertLock(ctx, l); err != nil {
		return false, nil, err
	}
	m.invalidate(ctx, ruleID)
	return true, nil, nil
}

// ForceAcquire deactivates any existing lock and grants it to adminUser
// unconditionally. Callers must have already verified admin privilege.
func (m *Manager) ForceAcquire(ctx context.Context, ruleID int64, adminUser string, ttl time.Duration) error {
	now := time.Now()
	l := &model.Lock{
		RuleID:     ruleID,
		LockedBy:   adminUser,
		LockedAt:   now,
		ExpiryAt:   now.Add(ttl),
		ForceLock:  true,
		ActiveLock: true,
	}
	if err := m.store.UpsertLock(ctx, l); err != nil {
		return err
	}
	m.recordContention(true)
	m.invalidate(ctx, ruleID)
	return nil
}

// Release deactivates the current lock if user owns it or is Admin.
func (m *Manager) Release(ctx context.Context, ruleID int64, actor model.Actor, adminGroup string) error {
	existing, err := m.store.GetLock(ctx, ruleID)
	if err != nil {
		return err
	}
	if existing == nil || !existing.ActiveLock {
		return nil
	}
	if existing.LockedBy != actor.User && !actor.IsAdmin(adminGroup) {
		return brmerrors.AccessDenied("only the lock owner or an admin may release this lock").WithRule(ruleID)
	}
	if err := m.store.DeactivateLock(ctx, ruleID); err != nil {
		return err
	}
	m.invalidate(ctx, ruleID)
	return nil
}

// CurrentOwner reports the rule's active, unexpired lock holder, if any,
// consulting the read-through cache first.
func (m *Manager) CurrentOwner(ctx context.Context, ruleID int64) (owner string, expiresAt time.Time, ok bool, err error) {
	if m.cache != nil {
		if cached, hit, cerr := m.cache.Get(ctx, ruleID); cerr == nil && hit {
			owner, expiresAt, _ := decodeOwnerCacheValue(cached)
			return owner, expiresAt, true, nil
		}
	}

	l, err := m.store.GetLock(ctx, ruleID)
	if err != nil {
		return "", time.Time{}, false, err
	}
	if l == nil || !l.ActiveLock || l.Expired(time.Now()) {
		if l != nil && l.ActiveLock && l.Expired(time.Now()) {
			_ = m.store.DeactivateLock(ctx, ruleID)
		}
		return "", time.Time{}, false, nil
	}

	if m.cache != nil {
		_ = m.cache.Set(ctx, ruleID, encodeOwnerCacheValue(l.LockedBy, l.ExpiryAt), time.Until(l.ExpiryAt))
	}
	return l.LockedBy, l.ExpiryAt, true, nil
}

// RequireHeld returns a LockConflict error unless actor is Admin or
// currently holds an unexpired lock on ruleID. Update, Deactivate and
// Delete call this before proceeding; Create, ForceActivate and the
// approval paths do not.
func (m *Manager) RequireHeld(ctx context.Context, ruleID int64, actor model.Actor, adminGroup string) error {
	if actor.IsAdmin(adminGroup) {
		return nil
	}
	owner, expiresAt, ok, err := m.CurrentOwner(ctx, ruleID)
	if err != nil {
		return err
	}
	if !ok || owner != actor.User {
		return brmerrors.LockConflict(ruleID, owner, expiresAt)
	}
	return nil
}

func (m *Manager) invalidate(ctx context.Context, ruleID int64) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, ruleID); err != nil && m.log != nil {
		m.log.WithContext(ctx).WithError(err).Warn("lock cache invalidation failed")
	}
}

func (m *Manager) recordContention(forced bool) {
	if m.metrics != nil {
		m.metrics.RecordLockContention(forced)
	}
}
