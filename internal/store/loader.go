package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/i474232898/heat-island-pipeline/internal/database"
	"github.com/i474232898/heat-island-pipeline/internal/log"
	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

// DefaultBatchSize is the number of observation rows per INSERT statement.
const DefaultBatchSize = 1000

const upsertUrbanSQL = `INSERT INTO locations (name, latitude, longitude, is_urban)
VALUES (?, ?, ?, TRUE)
ON CONFLICT (name) DO UPDATE
SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude
RETURNING location_id`

const upsertRuralSQL = `INSERT INTO locations (name, latitude, longitude, is_urban, urban_pair_id)
VALUES (?, ?, ?, FALSE, ?)
ON CONFLICT (name) DO UPDATE
SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, urban_pair_id = EXCLUDED.urban_pair_id
RETURNING location_id`

// temperatureRow maps one row of temperature_data.
type temperatureRow struct {
	LocationID  int64     `gorm:"column:location_id;primaryKey;autoIncrement:false"`
	Timestamp   time.Time `gorm:"column:timestamp;primaryKey"`
	Temperature float64   `gorm:"column:temperature"`
	Humidity    *float64  `gorm:"column:humidity"`
	Pressure    *float64  `gorm:"column:pressure"`
}

func (temperatureRow) TableName() string {
	return parentTable
}

// Loader upserts locations and observations.
type Loader struct {
	batchSize int
}

// NewLoader returns a Loader writing batchSize rows per statement. Values
// below 1 select DefaultBatchSize.
func NewLoader(batchSize int) *Loader {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Loader{batchSize: batchSize}
}

// LoadLocations upserts the urban then the rural side of every pair in one
// transaction and returns the id of every location by name. The rural row
// references the urban id returned in the same transaction.
func (l *Loader) LoadLocations(ctx context.Context, conn *database.Conn, pairs []weather.LocationPair) (map[string]int64, error) {
	ids := make(map[string]int64, len(pairs)*2)

	err := conn.WithTx(ctx, func(tx *gorm.DB) error {
		for _, p := range pairs {
			urbanID, err := upsertLocation(tx, p.Urban(), 0)
			if err != nil {
				return err
			}
			ruralID, err := upsertLocation(tx, p.Rural(), urbanID)
			if err != nil {
				return err
			}

			ids[p.UrbanName] = urbanID
			ids[p.RuralName] = ruralID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("loaded %d locations", len(ids))
	return ids, nil
}

// upsertLocation writes one side of a pair. Rural rows reference urbanID.
func upsertLocation(tx *gorm.DB, loc weather.Location, urbanID int64) (int64, error) {
	kind := "rural"
	q, args := upsertRuralSQL, []any{loc.Name, loc.Latitude, loc.Longitude, urbanID}
	if loc.IsUrban {
		kind = "urban"
		q, args = upsertUrbanSQL, []any{loc.Name, loc.Latitude, loc.Longitude}
	}

	var id int64
	if err := tx.Raw(q, args...).Scan(&id).Error; err != nil {
		return 0, fmt.Errorf("upserting %s location %s: %w", kind, loc.Name, err)
	}
	if id == 0 {
		return 0, fmt.Errorf("upserting %s location %s: no id returned", kind, loc.Name)
	}
	return id, nil
}

// LoadTemperatureData upserts obs for one location and returns len(obs).
// Partitions covering the batch are created first. Rows go out in batches
// but the whole call commits or rolls back as one transaction.
//
// On conflict the temperature is always overwritten. Humidity and pressure
// are only overwritten when the batch carries them, so a temperature only
// load never erases optional measurements stored earlier.
func (l *Loader) LoadTemperatureData(ctx context.Context, conn *database.Conn, locationID int64, obs []weather.Observation) (int, error) {
	earliest, latest, ok := weather.TimeBounds(obs)
	if !ok {
		log.Debugf("no temperature records for location %d", locationID)
		return 0, nil
	}

	for _, p := range PartitionsBetween(earliest, latest) {
		if err := ensurePartition(ctx, conn, p); err != nil {
			return 0, err
		}
	}

	rows := make([]temperatureRow, len(obs))
	var hasHumidity, hasPressure bool
	for i, o := range obs {
		rows[i] = temperatureRow{
			LocationID:  locationID,
			Timestamp:   o.Timestamp.UTC(),
			Temperature: o.Temperature,
			Humidity:    o.Humidity,
			Pressure:    o.Pressure,
		}
		hasHumidity = hasHumidity || o.Humidity != nil
		hasPressure = hasPressure || o.Pressure != nil
	}

	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "location_id"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns(updateColumns(hasHumidity, hasPressure)),
	}

	err := conn.WithTx(ctx, func(tx *gorm.DB) error {
		for start := 0; start < len(rows); start += l.batchSize {
			end := min(start+l.batchSize, len(rows))
			batch := rows[start:end]
			if err := tx.Clauses(onConflict).Create(&batch).Error; err != nil {
				return fmt.Errorf("upserting rows %d-%d for location %d: %w", start, end, locationID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Infof("loaded %d temperature records for location %d", len(obs), locationID)
	return len(obs), nil
}

func updateColumns(humidity, pressure bool) []string {
	cols := []string{"temperature"}
	if humidity {
		cols = append(cols, "humidity")
	}
	if pressure {
		cols = append(cols, "pressure")
	}
	return cols
}
