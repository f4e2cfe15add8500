// Package recovery implements the operational escape hatches: clearing
// extracted mentions, resetting stuck process status, and purging a
// tenant outright.
package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

// Ops bundles the recovery operations behind one receiver so the server
// wires a single dependency.
type Ops struct {
	store  storage.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewOps returns recovery operations over store.
func NewOps(store storage.Store, logger *zap.Logger) *Ops {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ops{store: store, logger: logger, now: time.Now}
}

// ClearMentions deletes every mention for the tenant and returns the
// count removed. Notes and patients survive, so the next extraction
// reprocesses everything.
func (o *Ops) ClearMentions(ctx context.Context, tenantID string) (int64, error) {
	n, err := o.store.ClearMentions(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	o.logger.Info("mentions cleared",
		zap.String("tenant_id", tenantID),
		zap.Int64("deleted", n))
	return n, nil
}

// ResetStatus force-writes a ready state over the tenant's status row
// for the given process type. The ready state bypasses the monotone
// percentage guard, so a stuck 80% row drops back to 0.
func (o *Ops) ResetStatus(ctx context.Context, tenantID, processType string) error {
	now := o.now().UTC()
	err := o.store.UpsertProcessStatus(ctx, &types.ProcessStatus{
		TenantID:    tenantID,
		ProcessType: processType,
		State:       "ready",
		Stage:       "ready",
		Percentage:  0,
		Message:     "Reset",
		LastUpdate:  now,
		End:         &now,
	})
	if err != nil {
		return err
	}
	o.logger.Info("process status reset",
		zap.String("tenant_id", tenantID),
		zap.String("process_type", processType))
	return nil
}

// PurgeTenant removes all of the tenant's operational data. The
// dictionary survives; it is curated content, not pipeline output.
func (o *Ops) PurgeTenant(ctx context.Context, tenantID string) error {
	if err := o.store.PurgeTenant(ctx, tenantID); err != nil {
		return err
	}
	o.logger.Warn("tenant purged", zap.String("tenant_id", tenantID))
	return nil
}
