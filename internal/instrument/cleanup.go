package instrument

import (
	"context"
	"fmt"

	"fieldconfig-backend/internal/store"
)

// CleanupOldEvents deletes history entries older than retentionDays.
func CleanupOldEvents(ctx context.Context, s *store.Store, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	pb := s.Dialect.NewParamBuilder()
	sqlStr := "DELETE FROM _config_events WHERE " + s.Dialect.OlderThanExpr("created_at", pb, retentionDays)
	n, err := store.Exec(ctx, s.DB, sqlStr, pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("event cleanup: %w", err)
	}
	return n, nil
}
