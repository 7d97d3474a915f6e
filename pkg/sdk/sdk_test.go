package sdk_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/invasions/internal/api"
	"github.com/celerix-dev/invasions/internal/cache"
	"github.com/celerix-dev/invasions/internal/engine"
	"github.com/celerix-dev/invasions/internal/service"
	"github.com/celerix-dev/invasions/internal/store"
	"github.com/celerix-dev/invasions/pkg/schema"
	"github.com/celerix-dev/invasions/pkg/sdk"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var _ sdk.Reader = (*sdk.Client)(nil)

type fixedStore struct{}

func (fixedStore) ListCities(context.Context) ([]schema.City, error) {
	return []schema.City{{ID: 1, Name: "Rome", InvasionCount: 2}}, nil
}

func (fixedStore) GetCity(_ context.Context, id int64) (schema.City, error) {
	if id != 1 {
		return schema.City{}, store.ErrNotFound
	}
	return schema.City{ID: 1, Name: "Rome", InvasionCount: 2}, nil
}

func (fixedStore) ListCityInvasions(context.Context, int64) ([]schema.CityInvasion, error) {
	return []schema.CityInvasion{{ID: 1, Year: 410}, {ID: 2, Year: 455}}, nil
}

func (fixedStore) ListTribes(context.Context) ([]schema.Tribe, error) {
	return []schema.Tribe{{ID: 1, Name: "Vandals"}}, nil
}

func (fixedStore) GetTribe(_ context.Context, id int64) (schema.Tribe, error) {
	if id != 1 {
		return schema.Tribe{}, store.ErrNotFound
	}
	return schema.Tribe{ID: 1, Name: "Vandals"}, nil
}

func (fixedStore) ListTribeInvasions(context.Context, int64) ([]schema.TribeInvasion, error) {
	return []schema.TribeInvasion{{ID: 2, Year: 455, CityName: "Rome"}}, nil
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := service.New(fixedStore{}, cache.NewMemoryCache(engine.NewMemStore(nil, nil)), nil, service.WithLogger(quiet))
	r := api.NewRouter(&api.Handler{Service: svc, Logger: quiet}, &api.Health{}, nil, quiet)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientAgainstServer(t *testing.T) {
	srv := startServer(t)
	c, err := sdk.New(srv.URL, sdk.WithLogger(quiet))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	cities, err := c.ListCities(ctx)
	if err != nil {
		t.Fatalf("ListCities failed: %v", err)
	}
	if cities.Count != 1 || cities.Cities[0].Name != "Rome" || cities.Cached {
		t.Errorf("Unexpected cities %+v", cities)
	}
	cities, _ = c.ListCities(ctx)
	if !cities.Cached {
		t.Error("Expected second listing to be cached")
	}

	city, err := c.GetCity(ctx, 1)
	if err != nil || city.InvasionCount != 2 {
		t.Errorf("GetCity: %+v, %v", city, err)
	}

	invasions, err := c.ListCityInvasions(ctx, 1)
	if err != nil || invasions.Count != 2 || invasions.Invasions[0].Year != 410 {
		t.Errorf("ListCityInvasions: %+v, %v", invasions, err)
	}

	tribes, err := c.ListTribes(ctx)
	if err != nil || tribes.Tribes[0].Name != "Vandals" {
		t.Errorf("ListTribes: %+v, %v", tribes, err)
	}

	tribe, err := c.GetTribe(ctx, 1)
	if err != nil || tribe.Name != "Vandals" {
		t.Errorf("GetTribe: %+v, %v", tribe, err)
	}

	ti, err := c.ListTribeInvasions(ctx, 1)
	if err != nil || ti.Tribe.Name != "Vandals" || ti.Count != 1 {
		t.Errorf("ListTribeInvasions: %+v, %v", ti, err)
	}

	health, err := c.Health(ctx)
	if err != nil || health["status"] != "ready" {
		t.Errorf("Health: %v, %v", health, err)
	}
}

func TestClientNotFound(t *testing.T) {
	srv := startServer(t)
	c, _ := sdk.New(srv.URL, sdk.WithLogger(quiet))

	_, err := c.GetCity(context.Background(), 42)
	if !errors.Is(err, sdk.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	_, err = c.ListTribeInvasions(context.Background(), 42)
	if !errors.Is(err, sdk.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"store list cities: connection refused"}`))
			return
		}
		w.Write([]byte(`{"cities":[],"count":0,"cached":false}`))
	}))
	defer srv.Close()

	c, _ := sdk.New(srv.URL, sdk.WithLogger(quiet))
	list, err := c.ListCities(context.Background())
	if err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if list.Count != 0 || calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestClientGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := sdk.New(srv.URL, sdk.WithAttempts(2), sdk.WithLogger(quiet))
	if _, err := c.ListTribes(context.Background()); err == nil {
		t.Fatal("Expected error")
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid city id"}`))
	}))
	defer srv.Close()

	c, _ := sdk.New(srv.URL, sdk.WithLogger(quiet))
	_, err := c.GetCity(context.Background(), 1)
	if !errors.Is(err, sdk.ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := sdk.New("localhost:8000"); err == nil {
		t.Error("Expected error for URL without scheme")
	}
}

func TestFromEnv(t *testing.T) {
	srv := startServer(t)
	t.Setenv("INVASIONS_API_URL", srv.URL+"/")

	c, err := sdk.FromEnv(sdk.WithLogger(quiet))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if _, err := c.ListCities(context.Background()); err != nil {
		t.Errorf("ListCities failed: %v", err)
	}
}
