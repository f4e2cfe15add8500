package sqlite

import (
	"context"
	"fmt"
)

// ClearMentions deletes every mention for the tenant and returns the
// number of rows removed. Idempotent.
func (s *Store) ClearMentions(ctx context.Context, tenantID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM mentions WHERE tenant_id = ?", tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear mentions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// purgeOrder is load-bearing: children before parents so the delete
// sequence never hits a dangling reference mid-purge.
var purgeOrder = []string{
	"mentions",
	"notes",
	"patients",
	"upload_tracking",
	"process_status",
}

// PurgeTenant removes every row the tenant owns, in dependency order,
// inside one transaction. Idempotent. The dictionary survives a purge;
// it is curated content, not patient data.
func (s *Store) PurgeTenant(ctx context.Context, tenantID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range purgeOrder {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE tenant_id = ?", tenantID); err != nil {
			return fmt.Errorf("failed to purge %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	return nil
}
