package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

// UpsertProcessStatus writes the latest-known state for a
// (tenant, process type) pair. The percentage can only move forward
// unless the incoming state is queued, ready, reset, or failed; the
// guard lives in the upsert itself so no read-modify-write race can
// lower it.
func (s *Store) UpsertProcessStatus(ctx context.Context, status *types.ProcessStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_status (
			tenant_id, process_type, state, percentage, message, stage,
			total_items, processed_items, last_update, start_time, end_time, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, process_type) DO UPDATE SET
			state = excluded.state,
			percentage = CASE
				WHEN excluded.state IN ('queued', 'ready', 'reset', 'failed') THEN excluded.percentage
				WHEN excluded.percentage > process_status.percentage THEN excluded.percentage
				ELSE process_status.percentage
			END,
			message = excluded.message,
			stage = excluded.stage,
			total_items = excluded.total_items,
			processed_items = excluded.processed_items,
			last_update = excluded.last_update,
			start_time = COALESCE(excluded.start_time, process_status.start_time),
			end_time = excluded.end_time,
			error = excluded.error
	`,
		status.TenantID, status.ProcessType, status.State, status.Percentage,
		status.Message, status.Stage, status.TotalItems, status.ProcessedItems,
		status.LastUpdate, nullTime(status.Start), nullTime(status.End), status.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert process status: %w", err)
	}
	return nil
}

// GetProcessStatus returns the persisted row for (tenant, process type),
// or storage.ErrNotFound.
func (s *Store) GetProcessStatus(ctx context.Context, tenantID, processType string) (*types.ProcessStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, process_type, state, percentage, message, stage,
		       total_items, processed_items, last_update, start_time, end_time, error
		FROM process_status WHERE tenant_id = ? AND process_type = ?
	`, tenantID, processType)

	st := &types.ProcessStatus{}
	var start, end sql.NullTime
	err := row.Scan(&st.TenantID, &st.ProcessType, &st.State, &st.Percentage,
		&st.Message, &st.Stage, &st.TotalItems, &st.ProcessedItems,
		&st.LastUpdate, &start, &end, &st.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get process status: %w", err)
	}
	st.Start = timePtr(start)
	st.End = timePtr(end)
	return st, nil
}
