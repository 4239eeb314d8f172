package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shopsync/backend/internal/domain/catalog"
	"github.com/shopsync/backend/internal/infrastructure/persistence/models"
)

const refreshVectorSQL = `UPDATE %[1]s SET
	search_vector =
		setweight(to_tsvector('simple', coalesce(search_a, '')), 'A') ||
		setweight(to_tsvector('simple', coalesce(search_b, '')), 'B') ||
		setweight(to_tsvector('simple', coalesce(search_c, '')), 'C') ||
		setweight(to_tsvector('simple', coalesce(search_d, '')), 'D'),
	search_dirty = false
WHERE id IN (SELECT id FROM %[1]s WHERE search_dirty LIMIT ?)`

// SearchIndexer refreshes the tsvector column of rows flagged dirty by the
// catalog store. It runs outside tenant transactions as the table owner.
type SearchIndexer struct {
	db        *gorm.DB
	batchSize int
	logger    *zap.Logger
}

// NewSearchIndexer creates a new SearchIndexer
func NewSearchIndexer(db *gorm.DB, batchSize int, logger *zap.Logger) *SearchIndexer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &SearchIndexer{db: db, batchSize: batchSize, logger: logger}
}

// RefreshDirty recomputes up to one batch of vectors per table and returns
// how many rows were refreshed. Databases without tsvector support are skipped.
func (i *SearchIndexer) RefreshDirty(ctx context.Context) (int64, error) {
	if !IsPostgres(i.db) {
		return 0, nil
	}
	var total int64
	for _, t := range catalog.SyncOrder() {
		table, _ := models.TableFor(t)
		res := i.db.WithContext(ctx).Exec(fmt.Sprintf(refreshVectorSQL, table), i.batchSize)
		if res.Error != nil {
			return total, fmt.Errorf("failed to refresh search vectors of %s: %w", table, res.Error)
		}
		total += res.RowsAffected
	}
	if total > 0 {
		i.logger.Debug("Search vectors refreshed", zap.Int64("rows", total))
	}
	return total, nil
}
