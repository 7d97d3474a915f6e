// Package store is the PostgreSQL source of truth for cities, tribes,
// invasions and persisted analytics events.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/celerix-dev/invasions/internal/metrics"
	"github.com/celerix-dev/invasions/pkg/schema"
)

// ErrNotFound is returned when a requested city or tribe does not exist.
var ErrNotFound = errors.New("not found")

// Querier is the part of pgxpool.Pool the store uses. Transactions and
// single connections satisfy it too.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store runs every statement on a pooled connection that is released as soon
// as the statement completes.
type Store struct {
	db      Querier
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// Open creates a connection pool and verifies it with a ping.
func Open(ctx context.Context, databaseURL string, maxConns int32, m *metrics.Metrics) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: pool, pool: pool, metrics: m}, nil
}

// New wraps an existing querier.
func New(db Querier, m *metrics.Metrics) *Store {
	return &Store{db: db, metrics: m}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// CountCities reports how many cities are loaded. The startup probe uses it to
// confirm migrations have run.
func (s *Store) CountCities(ctx context.Context) (int, error) {
	defer s.observe("count_cities", time.Now())
	var n int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM cities").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cities: %w", err)
	}
	return n, nil
}

const listCitiesSQL = `
SELECT c.id, c.name, c.country, COALESCE(c.modern_name, ''), COALESCE(c.description, ''),
       (SELECT COUNT(*) FROM invasions i WHERE i.city_id = c.id) AS invasion_count
FROM cities c
ORDER BY c.name, c.id`

func (s *Store) ListCities(ctx context.Context) ([]schema.City, error) {
	defer s.observe("list_cities", time.Now())

	rows, err := s.db.Query(ctx, listCitiesSQL)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	cities, err := pgx.CollectRows(rows, scanCity)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	return cities, nil
}

const getCitySQL = `
SELECT c.id, c.name, c.country, COALESCE(c.modern_name, ''), COALESCE(c.description, ''),
       (SELECT COUNT(*) FROM invasions i WHERE i.city_id = c.id) AS invasion_count
FROM cities c
WHERE c.id = $1`

func (s *Store) GetCity(ctx context.Context, id int64) (schema.City, error) {
	defer s.observe("get_city", time.Now())

	rows, err := s.db.Query(ctx, getCitySQL, id)
	if err != nil {
		return schema.City{}, fmt.Errorf("get city %d: %w", id, err)
	}
	city, err := pgx.CollectExactlyOneRow(rows, scanCity)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.City{}, fmt.Errorf("city %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return schema.City{}, fmt.Errorf("get city %d: %w", id, err)
	}
	return city, nil
}

func scanCity(row pgx.CollectableRow) (schema.City, error) {
	var c schema.City
	err := row.Scan(&c.ID, &c.Name, &c.Country, &c.ModernName, &c.Description, &c.InvasionCount)
	return c, err
}

const listTribesSQL = `
SELECT t.id, t.name, COALESCE(t.origin, ''), COALESCE(t.leader, ''), COALESCE(t.description, ''),
       (SELECT COUNT(*) FROM invasions i WHERE i.tribe_id = t.id) AS invasion_count
FROM tribes t
ORDER BY t.name, t.id`

func (s *Store) ListTribes(ctx context.Context) ([]schema.Tribe, error) {
	defer s.observe("list_tribes", time.Now())

	rows, err := s.db.Query(ctx, listTribesSQL)
	if err != nil {
		return nil, fmt.Errorf("list tribes: %w", err)
	}
	tribes, err := pgx.CollectRows(rows, scanTribe)
	if err != nil {
		return nil, fmt.Errorf("list tribes: %w", err)
	}
	return tribes, nil
}

const getTribeSQL = `
SELECT t.id, t.name, COALESCE(t.origin, ''), COALESCE(t.leader, ''), COALESCE(t.description, ''),
       (SELECT COUNT(*) FROM invasions i WHERE i.tribe_id = t.id) AS invasion_count
FROM tribes t
WHERE t.id = $1`

func (s *Store) GetTribe(ctx context.Context, id int64) (schema.Tribe, error) {
	defer s.observe("get_tribe", time.Now())

	rows, err := s.db.Query(ctx, getTribeSQL, id)
	if err != nil {
		return schema.Tribe{}, fmt.Errorf("get tribe %d: %w", id, err)
	}
	tribe, err := pgx.CollectExactlyOneRow(rows, scanTribe)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Tribe{}, fmt.Errorf("tribe %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return schema.Tribe{}, fmt.Errorf("get tribe %d: %w", id, err)
	}
	return tribe, nil
}

func scanTribe(row pgx.CollectableRow) (schema.Tribe, error) {
	var t schema.Tribe
	err := row.Scan(&t.ID, &t.Name, &t.Origin, &t.Leader, &t.Description, &t.InvasionCount)
	return t, err
}

const cityInvasionsSQL = `
SELECT i.id, i.year, COALESCE(i.description, ''), COALESCE(i.outcome, ''),
       t.id, t.name, COALESCE(t.origin, ''), COALESCE(t.leader, '')
FROM invasions i
JOIN tribes t ON t.id = i.tribe_id
WHERE i.city_id = $1
ORDER BY i.year, i.id`

// ListCityInvasions returns the invasions of one city ordered by year. It does
// not check that the city exists.
func (s *Store) ListCityInvasions(ctx context.Context, cityID int64) ([]schema.CityInvasion, error) {
	defer s.observe("list_city_invasions", time.Now())

	rows, err := s.db.Query(ctx, cityInvasionsSQL, cityID)
	if err != nil {
		return nil, fmt.Errorf("list invasions of city %d: %w", cityID, err)
	}
	invasions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.CityInvasion, error) {
		var inv schema.CityInvasion
		err := row.Scan(&inv.ID, &inv.Year, &inv.Description, &inv.Outcome,
			&inv.TribeID, &inv.TribeName, &inv.Origin, &inv.Leader)
		return inv, err
	})
	if err != nil {
		return nil, fmt.Errorf("list invasions of city %d: %w", cityID, err)
	}
	return invasions, nil
}

const tribeInvasionsSQL = `
SELECT i.id, i.year, COALESCE(i.description, ''), COALESCE(i.outcome, ''),
       c.id, c.name, c.country
FROM invasions i
JOIN cities c ON c.id = i.city_id
WHERE i.tribe_id = $1
ORDER BY i.year, i.id`

// ListTribeInvasions returns the invasions led by one tribe ordered by year.
func (s *Store) ListTribeInvasions(ctx context.Context, tribeID int64) ([]schema.TribeInvasion, error) {
	defer s.observe("list_tribe_invasions", time.Now())

	rows, err := s.db.Query(ctx, tribeInvasionsSQL, tribeID)
	if err != nil {
		return nil, fmt.Errorf("list invasions of tribe %d: %w", tribeID, err)
	}
	invasions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.TribeInvasion, error) {
		var inv schema.TribeInvasion
		err := row.Scan(&inv.ID, &inv.Year, &inv.Description, &inv.Outcome,
			&inv.CityID, &inv.CityName, &inv.Country)
		return inv, err
	})
	if err != nil {
		return nil, fmt.Errorf("list invasions of tribe %d: %w", tribeID, err)
	}
	return invasions, nil
}

const insertEventSQL = `
INSERT INTO analytics (event_id, event_type, event_data, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id) DO NOTHING`

// InsertEvent persists one analytics event. A redelivered event whose id is
// already stored is ignored and reported with inserted == false.
func (s *Store) InsertEvent(ctx context.Context, ev schema.AnalyticsEvent) (inserted bool, err error) {
	defer s.observe("insert_event", time.Now())

	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("encode event data: %w", err)
	}

	tag, err := s.db.Exec(ctx, insertEventSQL, ev.ID, string(ev.Type), payload, ev.Timestamp.UTC())
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) observe(op string, start time.Time) {
	s.metrics.ObserveStoreQuery(op, time.Since(start).Seconds())
}
