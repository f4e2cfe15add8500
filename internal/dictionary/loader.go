// Package dictionary loads and reconciles the symptom master.
package dictionary

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

// Loader resolves a tenant's dictionary: store first, seed file as
// fallback. The loader never synthesizes entries; a short seed is the
// operator's problem to correct.
type Loader struct {
	store    storage.Store
	seedPath string
	logger   *zap.Logger
}

// NewLoader returns a loader reading from store, falling back to the
// CSV seed at seedPath.
func NewLoader(store storage.Store, seedPath string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, seedPath: seedPath, logger: logger}
}

// Load returns the tenant's reconciled dictionary. When the store is
// empty, the seed file is parsed, reconciled, persisted (idempotently,
// keyed on tenant_id+symptom_id), and returned. If both the store and
// the seed are unavailable, Load fails with
// storage.ErrDictionaryUnavailable; that error must not be retried.
func (l *Loader) Load(ctx context.Context, tenantID string) ([]*types.DictionaryEntry, error) {
	stored, storeErr := l.store.ListDictionary(ctx, tenantID)
	if storeErr == nil && len(stored) > 0 {
		return stored, nil
	}
	if storeErr != nil {
		l.logger.Warn("dictionary store read failed, trying seed",
			zap.String("tenant_id", tenantID), zap.Error(storeErr))
	}

	seeded, seedErr := ParseSeedFile(l.seedPath, tenantID)
	if seedErr != nil {
		if storeErr != nil {
			return nil, fmt.Errorf("%w: store: %v; seed: %v",
				storage.ErrDictionaryUnavailable, storeErr, seedErr)
		}
		return nil, fmt.Errorf("%w: store empty and seed failed: %v",
			storage.ErrDictionaryUnavailable, seedErr)
	}

	reconciled, stats := Reconcile(seeded)
	if stats.ExactDuplicates > 0 || stats.IDCollisions > 0 {
		l.logger.Info("dictionary reconciled",
			zap.String("tenant_id", tenantID),
			zap.Int("entries", len(reconciled)),
			zap.Int("exact_duplicates_dropped", stats.ExactDuplicates),
			zap.Int("id_collisions_suffixed", stats.IDCollisions),
			zap.Int("invalid_rows_dropped", stats.Invalid))
	}
	if len(reconciled) == 0 {
		return nil, fmt.Errorf("%w: seed %s contained no usable entries",
			storage.ErrDictionaryUnavailable, l.seedPath)
	}

	if _, err := l.store.InsertDictionary(ctx, tenantID, reconciled); err != nil {
		// The in-memory set is still usable for this run; persistence
		// will succeed on a later load.
		l.logger.Warn("dictionary persist failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return reconciled, nil
}

// ReconcileStats reports what reconciliation dropped or rewrote.
type ReconcileStats struct {
	ExactDuplicates int
	IDCollisions    int
	Invalid         int
}

// Reconcile de-duplicates a raw entry set. Exact attribute-wise
// duplicates are dropped; entries sharing a symptom_id with differing
// attributes keep the first occurrence's id and get `{id}_{n}` suffixes
// (first unused n, starting at 1) for the rest. Rows with an empty
// segment or symptom_id are invalid and dropped.
func Reconcile(entries []*types.DictionaryEntry) ([]*types.DictionaryEntry, ReconcileStats) {
	var stats ReconcileStats
	seenContent := make(map[string]struct{}, len(entries))
	usedIDs := make(map[string]struct{}, len(entries))
	out := make([]*types.DictionaryEntry, 0, len(entries))

	for _, e := range entries {
		if e == nil || e.Segment == "" || e.SymptomID == "" {
			stats.Invalid++
			continue
		}
		key := e.ContentKey()
		if _, dup := seenContent[key]; dup {
			stats.ExactDuplicates++
			continue
		}
		seenContent[key] = struct{}{}

		cp := *e
		if _, taken := usedIDs[cp.SymptomID]; taken {
			stats.IDCollisions++
			cp.SymptomID = nextFreeID(cp.SymptomID, usedIDs)
		}
		usedIDs[cp.SymptomID] = struct{}{}
		out = append(out, &cp)
	}
	return out, stats
}

// nextFreeID returns `{base}_{n}` for the first unused n >= 1.
func nextFreeID(base string, used map[string]struct{}) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if _, taken := used[candidate]; !taken {
			return candidate
		}
	}
}
