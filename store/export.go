package store

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// ExportAll rewrites the full staging table as year-partitioned, gzip
// compressed parquet files under dir (one data_year=N subdirectory per
// staged year). It takes the writer role for its whole duration, so it can
// never observe an in-flight load; callers must still drain their own
// pending work first if they want a complete snapshot.
//
// OVERWRITE_OR_IGNORE makes the copy idempotent: partitions that already
// exist are rewritten in place, unreadable leftovers are skipped rather
// than failing the export.
func (s *Store) ExportAll(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory %s: %w", dir, err)
	}

	copySQL := fmt.Sprintf(`COPY thai_population TO '%s' (
		FORMAT PARQUET,
		PARTITION_BY (data_year),
		OVERWRITE_OR_IGNORE,
		COMPRESSION GZIP,
		FILE_EXTENSION 'parquet.gz'
	)`, escapeSQLString(dir))

	if _, err := s.db.Exec(copySQL); err != nil {
		return fmt.Errorf("failed to export partitions to %s: %w", dir, err)
	}

	s.logger.Info("partition export complete", zap.String("dir", dir))
	return nil
}

// escapeSQLString doubles single quotes for embedding in a SQL literal.
// COPY targets cannot be bound as parameters.
func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
