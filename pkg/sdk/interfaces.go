package sdk

import (
	"context"
	"errors"

	"github.com/celerix-dev/invasions/pkg/schema"
)

var (
	// ErrNotFound is returned when the requested city or tribe does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest is returned when the server rejects the request, e.g. a malformed id.
	ErrBadRequest = errors.New("bad request")
)

// --- Functional Interfaces (Interface Segregation) ---

// CityReader reads cities and the invasions they suffered.
type CityReader interface {
	ListCities(ctx context.Context) (schema.CityList, error)
	GetCity(ctx context.Context, id int64) (schema.City, error)
	ListCityInvasions(ctx context.Context, cityID int64) (schema.CityInvasions, error)
}

// TribeReader reads tribes and the invasions they led.
type TribeReader interface {
	ListTribes(ctx context.Context) (schema.TribeList, error)
	GetTribe(ctx context.Context, id int64) (schema.Tribe, error)
	ListTribeInvasions(ctx context.Context, tribeID int64) (schema.TribeInvasions, error)
}

// HealthChecker reports whether the API is ready to serve.
type HealthChecker interface {
	Health(ctx context.Context) (map[string]any, error)
}

// --- Composite Interfaces ---

// Reader is the complete read API.
type Reader interface {
	CityReader
	TribeReader
	HealthChecker
}
