// Package service implements the cache-aside read path over the store and
// emits analytics events for reads served from the store.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/celerix-dev/invasions/internal/cache"
	"github.com/celerix-dev/invasions/internal/metrics"
	"github.com/celerix-dev/invasions/internal/store"
	"github.com/celerix-dev/invasions/pkg/schema"
)

// DefaultTTL is how long a cached read stays fresh.
const DefaultTTL = 300 * time.Second

// Store is the read side of the source of truth.
type Store interface {
	ListCities(ctx context.Context) ([]schema.City, error)
	GetCity(ctx context.Context, id int64) (schema.City, error)
	ListCityInvasions(ctx context.Context, cityID int64) ([]schema.CityInvasion, error)
	ListTribes(ctx context.Context) ([]schema.Tribe, error)
	GetTribe(ctx context.Context, id int64) (schema.Tribe, error)
	ListTribeInvasions(ctx context.Context, tribeID int64) ([]schema.TribeInvasion, error)
}

// Publisher accepts analytics events without blocking and never fails the
// caller.
type Publisher interface {
	Publish(eventType schema.EventType, data map[string]any)
}

// Service serves reads through the cache. It holds no mutable state of its
// own and is safe for concurrent use.
type Service struct {
	store   Store
	cache   cache.Cache
	events  Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	ttl     time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(st Store, c cache.Cache, events Publisher, opts ...Option) *Service {
	s := &Service{
		store:  st,
		cache:  c,
		events: events,
		logger: slog.Default(),
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "service")
	return s
}

// TTL returns the lifetime given to cache entries.
func (s *Service) TTL() time.Duration { return s.ttl }

func (s *Service) ListCities(ctx context.Context) (schema.CityList, error) {
	out, hit, err := readThrough(ctx, s, listKey(schema.KindCity), keySpace(schema.KindCity, false),
		func(ctx context.Context) (schema.CityList, error) {
			cities, err := s.store.ListCities(ctx)
			if err != nil {
				return schema.CityList{}, storeError("list cities", err)
			}
			if cities == nil {
				cities = []schema.City{}
			}
			return schema.CityList{Cities: cities, Count: len(cities)}, nil
		})
	if err != nil {
		return schema.CityList{}, err
	}
	out.Cached = hit
	if !hit {
		s.publishListed(schema.KindCity, out.Count)
	}
	return out, nil
}

func (s *Service) ListTribes(ctx context.Context) (schema.TribeList, error) {
	out, hit, err := readThrough(ctx, s, listKey(schema.KindTribe), keySpace(schema.KindTribe, false),
		func(ctx context.Context) (schema.TribeList, error) {
			tribes, err := s.store.ListTribes(ctx)
			if err != nil {
				return schema.TribeList{}, storeError("list tribes", err)
			}
			if tribes == nil {
				tribes = []schema.Tribe{}
			}
			return schema.TribeList{Tribes: tribes, Count: len(tribes)}, nil
		})
	if err != nil {
		return schema.TribeList{}, err
	}
	out.Cached = hit
	if !hit {
		s.publishListed(schema.KindTribe, out.Count)
	}
	return out, nil
}

// GetCity always reads the store.
func (s *Service) GetCity(ctx context.Context, id int64) (schema.City, error) {
	city, err := s.store.GetCity(ctx, id)
	if err != nil {
		return schema.City{}, lookupError(schema.KindCity, id, err)
	}
	return city, nil
}

// GetTribe always reads the store.
func (s *Service) GetTribe(ctx context.Context, id int64) (schema.Tribe, error) {
	tribe, err := s.store.GetTribe(ctx, id)
	if err != nil {
		return schema.Tribe{}, lookupError(schema.KindTribe, id, err)
	}
	return tribe, nil
}

// ListCityInvasions returns the invasions of one city ordered by year. An
// unknown city yields ErrNotFound before the invasions are queried.
func (s *Service) ListCityInvasions(ctx context.Context, cityID int64) (schema.CityInvasions, error) {
	out, hit, err := readThrough(ctx, s, relationsKey(schema.KindCity, cityID), keySpace(schema.KindCity, true),
		func(ctx context.Context) (schema.CityInvasions, error) {
			city, err := s.store.GetCity(ctx, cityID)
			if err != nil {
				return schema.CityInvasions{}, lookupError(schema.KindCity, cityID, err)
			}
			invasions, err := s.store.ListCityInvasions(ctx, cityID)
			if err != nil {
				return schema.CityInvasions{}, storeError("list city invasions", err)
			}
			if invasions == nil {
				invasions = []schema.CityInvasion{}
			}
			return schema.CityInvasions{
				City:      schema.EntityRef{ID: city.ID, Name: city.Name},
				Invasions: invasions,
				Count:     len(invasions),
			}, nil
		})
	if err != nil {
		return schema.CityInvasions{}, err
	}
	out.Cached = hit
	if !hit {
		s.publishRelationsViewed(schema.KindCity, out.City, out.Count)
	}
	return out, nil
}

// ListTribeInvasions returns the invasions led by one tribe ordered by year.
func (s *Service) ListTribeInvasions(ctx context.Context, tribeID int64) (schema.TribeInvasions, error) {
	out, hit, err := readThrough(ctx, s, relationsKey(schema.KindTribe, tribeID), keySpace(schema.KindTribe, true),
		func(ctx context.Context) (schema.TribeInvasions, error) {
			tribe, err := s.store.GetTribe(ctx, tribeID)
			if err != nil {
				return schema.TribeInvasions{}, lookupError(schema.KindTribe, tribeID, err)
			}
			invasions, err := s.store.ListTribeInvasions(ctx, tribeID)
			if err != nil {
				return schema.TribeInvasions{}, storeError("list tribe invasions", err)
			}
			if invasions == nil {
				invasions = []schema.TribeInvasion{}
			}
			return schema.TribeInvasions{
				Tribe:     schema.EntityRef{ID: tribe.ID, Name: tribe.Name},
				Invasions: invasions,
				Count:     len(invasions),
			}, nil
		})
	if err != nil {
		return schema.TribeInvasions{}, err
	}
	out.Cached = hit
	if !hit {
		s.publishRelationsViewed(schema.KindTribe, out.Tribe, out.Count)
	}
	return out, nil
}

// readThrough returns the value cached under key, or loads it, caches it for
// the service TTL and returns it with hit == false. Cache failures are logged
// and counted, and the read falls through to load.
func readThrough[T any](ctx context.Context, s *Service, key, space string, load func(context.Context) (T, error)) (T, bool, error) {
	var zero T

	raw, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.metrics.RecordCache(space, metrics.CacheError)
		s.logger.Warn("cache read failed, reading store", "key", key, "error", err)
	case ok:
		var v T
		decodeErr := json.Unmarshal(raw, &v)
		if decodeErr == nil {
			s.metrics.RecordCache(space, metrics.CacheHit)
			return v, true, nil
		}
		s.metrics.RecordCache(space, metrics.CacheError)
		s.logger.Warn("discarding undecodable cache entry", "key", key, "error", decodeErr)
	default:
		s.metrics.RecordCache(space, metrics.CacheMiss)
	}

	v, err := load(ctx)
	if err != nil {
		return zero, false, err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode cache entry", "key", key, "error", err)
		return v, false, nil
	}
	if err := s.cache.SetEx(ctx, key, payload, s.ttl); err != nil {
		s.metrics.RecordCache(space, metrics.CacheError)
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return v, false, nil
}

func (s *Service) publishListed(kind schema.Kind, count int) {
	if s.events == nil {
		return
	}
	s.events.Publish(schema.EventEntitiesListed, map[string]any{
		"kind":  string(kind),
		"count": count,
	})
}

func (s *Service) publishRelationsViewed(kind schema.Kind, ref schema.EntityRef, count int) {
	if s.events == nil {
		return
	}
	s.events.Publish(schema.EventEntityRelationsViewed, map[string]any{
		"kind":        string(kind),
		"entity_id":   ref.ID,
		"entity_name": ref.Name,
		"count":       count,
	})
}

func lookupError(kind schema.Kind, id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return storeError("get "+string(kind), err)
}

func storeError(op string, err error) error {
	var dep *DependencyError
	if errors.As(err, &dep) {
		return err
	}
	return &DependencyError{Dependency: "store", Op: op, Err: err}
}
