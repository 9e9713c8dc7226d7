package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// ErrUnavailable is returned when the ClickHouse source is not configured.
var ErrUnavailable = errors.New("clickhouse source unavailable")

// Source produces raw rows from an upstream store.
type Source interface {
	Fetch(ctx context.Context) ([]models.Row, error)
}

// ClickHouseSource aggregates raw bid events stored in ClickHouse into rows,
// one per distinct bidding context.
type ClickHouseSource struct {
	DB    *sql.DB
	Since time.Duration
	Now   func() time.Time
}

const bidEventsSchema = `CREATE TABLE IF NOT EXISTS bid_events (
    timestamp        DateTime,
    event_type       String,
    auction_id       String,
    inventory_source String,
    app_bundle       String,
    platform         String,
    banner_width     Int32,
    banner_height    Int32,
    placement_type   String,
    bandwidth        String,
    rewarded         UInt8
) ENGINE=MergeTree() ORDER BY (event_type, timestamp)`

const aggregateQuery = `SELECT
    inventory_source,
    app_bundle,
    platform,
    banner_width,
    banner_height,
    placement_type,
    bandwidth,
    rewarded,
    countIf(event_type = 'impression') AS impressions,
    countIf(event_type = 'conversion') AS conversions
FROM bid_events
WHERE timestamp >= ?
GROUP BY inventory_source, app_bundle, platform, banner_width, banner_height, placement_type, bandwidth, rewarded
HAVING impressions > 0
ORDER BY inventory_source, app_bundle, platform, banner_width, banner_height, placement_type, bandwidth, rewarded`

// OpenClickHouse connects to ClickHouse and ensures the bid_events table exists.
func OpenClickHouse(ctx context.Context, dsn string, since time.Duration) (*ClickHouseSource, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, bidEventsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}
	zap.L().Info("Connected to ClickHouse")
	return &ClickHouseSource{DB: db, Since: since, Now: time.Now}, nil
}

// Fetch returns one row per bidding context seen since the configured window.
func (s *ClickHouseSource) Fetch(ctx context.Context) ([]models.Row, error) {
	if s == nil || s.DB == nil {
		return nil, ErrUnavailable
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	rows, err := s.DB.QueryContext(ctx, aggregateQuery, now().Add(-s.Since))
	if err != nil {
		return nil, fmt.Errorf("query bid events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var out []models.Row
	for rows.Next() {
		var r models.Row
		var rewarded uint8
		var width, height int32
		var impressions, conversions uint64
		if err := rows.Scan(&r.InventorySource, &r.AppBundle, &r.Platform, &width, &height, &r.PlacementType, &r.Bandwidth, &rewarded, &impressions, &conversions); err != nil {
			return nil, fmt.Errorf("scan bid aggregate: %w", err)
		}
		r.BannerWidth = int(width)
		r.BannerHeight = int(height)
		r.Rewarded = rewarded != 0
		out = append(out, withRate(r, int64(impressions), int64(conversions)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Close terminates the ClickHouse connection.
func (s *ClickHouseSource) Close() {
	if s != nil && s.DB != nil {
		if err := s.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// withRate fills in the counters and the conversion-rate label.
func withRate(r models.Row, impressions, conversions int64) models.Row {
	r.Impressions = impressions
	r.Conversions = conversions
	if impressions > 0 {
		r.ConversionRate = float64(conversions) / float64(impressions)
	}
	return r
}
