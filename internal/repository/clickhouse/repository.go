package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
)

// Repository implements EventRepository and ComputedPropertyRepository for ClickHouse
type Repository struct {
	client *Client
	log    *zap.Logger
}

// NewRepository creates a new ClickHouse repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

var schema = []struct {
	name  string
	query string
}{
	{"user_events", `
	CREATE TABLE IF NOT EXISTS user_events (
		workspace_id LowCardinality(String),
		message_id String,
		event_type LowCardinality(String),
		event String,
		user_id String,
		anonymous_id String,
		user_or_anonymous_id String MATERIALIZED if(user_id != '', user_id, anonymous_id),
		properties String,
		event_time DateTime64(3),
		processing_time DateTime64(3)
	) ENGINE = MergeTree
	PARTITION BY (workspace_id, toYYYYMM(processing_time))
	ORDER BY (workspace_id, processing_time, user_or_anonymous_id, message_id)
	SETTINGS index_granularity = 8192
	`},
	{"computed_property_state", `
	CREATE TABLE IF NOT EXISTS computed_property_state (
		workspace_id LowCardinality(String),
		type Enum8('UserProperty' = 1, 'Segment' = 2),
		computed_property_id LowCardinality(String),
		state_id LowCardinality(String),
		user_id String,
		last_value AggregateFunction(argMax, String, DateTime64(3)),
		unique_count AggregateFunction(uniq, String),
		max_event_time AggregateFunction(max, DateTime64(3)),
		computed_at DateTime64(3)
	) ENGINE = AggregatingMergeTree()
	ORDER BY (workspace_id, type, computed_property_id, state_id, user_id)
	`},
	{"updated_computed_property_state", `
	CREATE TABLE IF NOT EXISTS updated_computed_property_state (
		workspace_id LowCardinality(String),
		type Enum8('UserProperty' = 1, 'Segment' = 2),
		computed_property_id LowCardinality(String),
		state_id LowCardinality(String),
		user_id String,
		computed_at DateTime64(3)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMMDD(computed_at)
	ORDER BY (workspace_id, type, computed_property_id, state_id, computed_at, user_id)
	TTL toStartOfDay(computed_at) + INTERVAL 100 DAY
	`},
	{"updated_computed_property_state_mv", `
	CREATE MATERIALIZED VIEW IF NOT EXISTS updated_computed_property_state_mv
	TO updated_computed_property_state
	AS SELECT workspace_id, type, computed_property_id, state_id, user_id, computed_at
	FROM computed_property_state
	`},
	{"computed_property_assignments", `
	CREATE TABLE IF NOT EXISTS computed_property_assignments (
		workspace_id LowCardinality(String),
		type Enum8('UserProperty' = 1, 'Segment' = 2),
		computed_property_id LowCardinality(String),
		user_id String,
		segment_value Boolean,
		user_property_value String,
		max_event_time DateTime64(3),
		assigned_at DateTime64(3)
	) ENGINE = ReplacingMergeTree(assigned_at)
	ORDER BY (workspace_id, type, computed_property_id, user_id)
	`},
	{"processed_computed_properties", `
	CREATE TABLE IF NOT EXISTS processed_computed_properties (
		workspace_id LowCardinality(String),
		user_id String,
		type Enum8('UserProperty' = 1, 'Segment' = 2),
		computed_property_id LowCardinality(String),
		processed_for_type LowCardinality(String),
		processed_for LowCardinality(String),
		segment_value Boolean,
		user_property_value String,
		max_event_time DateTime64(3),
		processed_at DateTime64(3)
	) ENGINE = ReplacingMergeTree(processed_at)
	ORDER BY (workspace_id, computed_property_id, processed_for_type, processed_for, user_id)
	`},
}

// InitSchema creates the event, state, assignment and processed tables
func (r *Repository) InitSchema(ctx context.Context) error {
	for _, s := range schema {
		if err := r.client.Conn().Exec(ctx, s.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}

	r.log.Info("ClickHouse schema initialized successfully", zap.Int("object_count", len(schema)))
	return nil
}

// InsertBatch inserts a batch of events into ClickHouse
func (r *Repository) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, `INSERT INTO user_events (
		workspace_id, message_id, event_type, event, user_id, anonymous_id, properties, event_time, processing_time
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	insertedCount := 0
	for _, event := range events {
		properties := event.Properties
		if properties == "" {
			properties = "{}"
		}

		err := batch.Append(
			event.WorkspaceID,
			event.MessageID,
			string(event.EventType),
			event.Event,
			event.UserID,
			event.AnonymousID,
			properties,
			event.OccurredAt,
			event.ProcessingTime,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append event to batch: %w", err)
		}
		insertedCount++
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return insertedCount, nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (r *Repository) Close() error {
	return r.client.Close()
}

func (r *Repository) closeRows(rows driver.Rows, query string) {
	if err := rows.Close(); err != nil {
		r.log.Error("Failed to close rows", zap.String("query", query), zap.Error(err))
	}
}
