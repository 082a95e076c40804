package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/i474232898/heat-island-pipeline/internal/database"
	"github.com/i474232898/heat-island-pipeline/internal/log"
)

const listViewsSQL = `SELECT matviewname FROM pg_catalog.pg_matviews
WHERE schemaname = 'public'
ORDER BY matviewname`

const viewExistsSQL = `SELECT EXISTS (
	SELECT 1 FROM pg_catalog.pg_matviews WHERE schemaname = 'public' AND matviewname = ?
)`

// RefreshResult lists which views a refresh pass touched.
type RefreshResult struct {
	Refreshed []string
	Skipped   []string
}

// ViewRefresher recomputes every materialized view of the schema.
type ViewRefresher struct {
	fallback []string
}

// NewViewRefresher returns a refresher that uses fallback when the catalog
// lists no views.
func NewViewRefresher(fallback []string) *ViewRefresher {
	return &ViewRefresher{fallback: fallback}
}

// RefreshAll refreshes every materialized view in one transaction. Views that
// do not exist are skipped; the first failing refresh rolls the pass back.
func (v *ViewRefresher) RefreshAll(ctx context.Context, conn *database.Conn) (RefreshResult, error) {
	var res RefreshResult

	err := conn.WithTx(ctx, func(tx *gorm.DB) error {
		names, err := listViews(tx)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			log.Warnf("no materialized views in catalog, using %d configured names", len(v.fallback))
			names = v.fallback
		}

		for _, name := range names {
			var exists bool
			if err := tx.Raw(viewExistsSQL, name).Scan(&exists).Error; err != nil {
				return fmt.Errorf("checking materialized view %s: %w", name, err)
			}
			if !exists {
				log.Warnf("materialized view %s does not exist, skipping", name)
				res.Skipped = append(res.Skipped, name)
				continue
			}

			log.Infof("refreshing materialized view %s", name)
			if err := tx.Exec("REFRESH MATERIALIZED VIEW " + pq.QuoteIdentifier(name)).Error; err != nil {
				return fmt.Errorf("refreshing materialized view %s: %w", name, err)
			}
			res.Refreshed = append(res.Refreshed, name)
		}
		return nil
	})
	if err != nil {
		return RefreshResult{}, err
	}
	return res, nil
}

func listViews(tx *gorm.DB) ([]string, error) {
	rows, err := tx.Raw(listViewsSQL).Rows()
	if err != nil {
		return nil, fmt.Errorf("listing materialized views: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing materialized views: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing materialized views: %w", err)
	}
	return names, nil
}
