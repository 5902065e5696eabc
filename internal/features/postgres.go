package features

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/platformbuilds/inference-core/internal/config"
	"github.com/platformbuilds/inference-core/internal/models"
	"github.com/platformbuilds/inference-core/pkg/logger"
)

// Connect opens the Tier-2 connection pool and verifies it is reachable.
func Connect(cfg config.PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// PostgresStore is the durable tabular tier backed by the feature_rows table.
// Every write bumps the row's version; reads for a batch run as one query.
type PostgresStore struct {
	db           *sqlx.DB
	logger       logger.Logger
	queryTimeout time.Duration
	breaker      *gobreaker.CircuitBreaker
}

func NewPostgresStore(db *sqlx.DB, queryTimeout time.Duration, log logger.Logger) *PostgresStore {
	if queryTimeout <= 0 {
		queryTimeout = time.Second
	}
	s := &PostgresStore{db: db, logger: log, queryTimeout: queryTimeout}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "feature-store-tier2",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("tier-2 circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

type featureRowRecord struct {
	EntityID  string    `db:"entity_id"`
	Group     string    `db:"feature_group"`
	Payload   []byte    `db:"payload"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

func rowFromRecord(rec featureRowRecord) (*models.FeatureRow, error) {
	values := make(map[string]interface{})
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &values); err != nil {
			return nil, fmt.Errorf("decode payload for %s/%s: %w", rec.Group, rec.EntityID, err)
		}
	}
	return &models.FeatureRow{
		Key:       models.FeatureKey{EntityID: rec.EntityID, Group: rec.Group},
		Values:    values,
		Version:   uint64(rec.Version),
		FetchedAt: time.Now().UTC(),
	}, nil
}

const getRowsQuery = `
SELECT entity_id, feature_group, payload, version, updated_at
FROM feature_rows
WHERE (entity_id, feature_group) IN (
    SELECT unnest($1::text[]), unnest($2::text[])
)`

// GetRows fetches all requested keys in a single query. Absent keys are
// simply missing from the result map.
func (s *PostgresStore) GetRows(ctx context.Context, keys []models.FeatureKey) (map[models.FeatureKey]*models.FeatureRow, error) {
	if len(keys) == 0 {
		return map[models.FeatureKey]*models.FeatureRow{}, nil
	}
	entityIDs := make([]string, len(keys))
	groups := make([]string, len(keys))
	for i, k := range keys {
		entityIDs[i] = k.EntityID
		groups[i] = k.Group
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()

		var records []featureRowRecord
		if err := s.db.SelectContext(qctx, &records, getRowsQuery,
			pq.Array(entityIDs), pq.Array(groups)); err != nil {
			return nil, fmt.Errorf("select feature rows: %w", err)
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}

	records := result.([]featureRowRecord)
	rows := make(map[models.FeatureKey]*models.FeatureRow, len(records))
	for _, rec := range records {
		row, err := rowFromRecord(rec)
		if err != nil {
			s.logger.Warn("skipping undecodable feature row",
				"entity_id", rec.EntityID, "group", rec.Group, "error", err)
			continue
		}
		rows[row.Key] = row
	}
	return rows, nil
}

const putRowQuery = `
INSERT INTO feature_rows (entity_id, feature_group, payload, version, updated_at)
VALUES ($1, $2, $3, 1, now())
ON CONFLICT (entity_id, feature_group)
DO UPDATE SET payload = EXCLUDED.payload,
              version = feature_rows.version + 1,
              updated_at = now()
RETURNING version`

// PutRow upserts one row and returns the version the database assigned.
func (s *PostgresStore) PutRow(ctx context.Context, key models.FeatureKey, values map[string]interface{}) (uint64, error) {
	payload, err := json.Marshal(values)
	if err != nil {
		return 0, fmt.Errorf("encode payload for %s/%s: %w", key.Group, key.EntityID, err)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()

		var version int64
		err := s.db.QueryRowxContext(qctx, putRowQuery, key.EntityID, key.Group, payload).Scan(&version)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("upsert returned no version for %s/%s", key.Group, key.EntityID)
			}
			return nil, fmt.Errorf("upsert feature row: %w", err)
		}
		return version, nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(result.(int64)), nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.db.PingContext(qctx)
}
