package storage

import (
	"context"
	"fmt"

	"github.com/zanotrade/marketbot/pkg/sqllogger"
)

// LogInsertFunc returns a sqllogger.InsertFunc writing into the app_log
// table, for wiring the sqlite log sink into the slog handler chain.
func (s *Storage) LogInsertFunc() sqllogger.InsertFunc {
	return func(ctx context.Context, entry sqllogger.InsertLogEntryParams) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		var scope any
		if entry.Scope != "" {
			scope = entry.Scope
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO app_log (timestamp_millis, level_text, scope, message, attrs_json) VALUES (?, ?, ?, ?, ?)`,
			entry.TimestampMillis, entry.LevelText, scope, entry.Message, string(entry.AttrsJSON))
		if err != nil {
			return fmt.Errorf("insert log entry: %w", err)
		}
		return nil
	}
}
