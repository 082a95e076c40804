package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/i474232898/heat-island-pipeline/internal/database"
	"github.com/i474232898/heat-island-pipeline/internal/log"
)

// parentTable is the range partitioned observation table.
const parentTable = "temperature_data"

const partitionExistsSQL = `SELECT EXISTS (
	SELECT 1 FROM pg_catalog.pg_tables WHERE schemaname = 'public' AND tablename = ?
)`

// errPartitionRaced marks a create that lost to a concurrent session.
var errPartitionRaced = errors.New("partition created concurrently")

// Partition is one calendar quarter of temperature_data covering [Start, End).
type Partition struct {
	Name  string
	Start time.Time
	End   time.Time
}

// PartitionFor returns the quarter partition that holds ts.
func PartitionFor(ts time.Time) Partition {
	ts = ts.UTC()
	quarter := (int(ts.Month())-1)/3 + 1
	start := time.Date(ts.Year(), time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)

	return Partition{
		Name:  fmt.Sprintf("%s_%d_q%d", parentTable, ts.Year(), quarter),
		Start: start,
		End:   start.AddDate(0, 3, 0),
	}
}

// PartitionsBetween returns every quarter partition from the one holding from
// through the one holding to, in order.
func PartitionsBetween(from, to time.Time) []Partition {
	if to.Before(from) {
		from, to = to, from
	}

	last := PartitionFor(to)
	var parts []Partition
	for p := PartitionFor(from); !p.Start.After(last.Start); p = PartitionFor(p.End) {
		parts = append(parts, p)
	}
	return parts
}

func (p Partition) createSQL() string {
	return fmt.Sprintf("CREATE TABLE %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')",
		pq.QuoteIdentifier(p.Name), parentTable,
		p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
}

// EnsurePartitionFor makes sure the partition holding ts exists, creating it
// in its own transaction when it does not. Losing a creation race to another
// session counts as success.
func EnsurePartitionFor(ctx context.Context, conn *database.Conn, ts time.Time) error {
	return ensurePartition(ctx, conn, PartitionFor(ts))
}

func ensurePartition(ctx context.Context, conn *database.Conn, p Partition) error {
	created := false
	err := conn.WithTx(ctx, func(tx *gorm.DB) error {
		var exists bool
		if err := tx.Raw(partitionExistsSQL, strings.ToLower(p.Name)).Scan(&exists).Error; err != nil {
			return fmt.Errorf("checking partition %s: %w", p.Name, err)
		}
		if exists {
			return nil
		}

		if err := tx.Exec(p.createSQL()).Error; err != nil {
			if database.IsDuplicateObject(err) {
				return fmt.Errorf("%w: %v", errPartitionRaced, err)
			}
			return fmt.Errorf("creating partition %s: %w", p.Name, err)
		}
		created = true
		return nil
	})

	switch {
	case errors.Is(err, errPartitionRaced):
		log.Infof("partition %s already created by another session", p.Name)
		return nil
	case err != nil:
		return err
	}

	if created {
		log.Infow("created partition", "partition", p.Name,
			"from", p.Start.Format(time.DateOnly), "to", p.End.Format(time.DateOnly))
	}
	return nil
}
