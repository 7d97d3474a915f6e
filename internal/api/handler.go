package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/invasions/internal/service"
	"github.com/celerix-dev/invasions/pkg/schema"
)

// Reader is the query service as seen by the HTTP layer.
type Reader interface {
	ListCities(ctx context.Context) (schema.CityList, error)
	GetCity(ctx context.Context, id int64) (schema.City, error)
	ListCityInvasions(ctx context.Context, cityID int64) (schema.CityInvasions, error)
	ListTribes(ctx context.Context) (schema.TribeList, error)
	GetTribe(ctx context.Context, id int64) (schema.Tribe, error)
	ListTribeInvasions(ctx context.Context, tribeID int64) (schema.TribeInvasions, error)
}

type Handler struct {
	Service Reader
	Logger  *slog.Logger
}

func (h *Handler) ListCities(c *gin.Context) {
	out, err := h.Service.ListCities(c.Request.Context())
	if err != nil {
		h.fail(c, schema.KindCity, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetCity(c *gin.Context) {
	id, ok := parseID(c, schema.KindCity)
	if !ok {
		return
	}
	city, err := h.Service.GetCity(c.Request.Context(), id)
	if err != nil {
		h.fail(c, schema.KindCity, err)
		return
	}
	c.JSON(http.StatusOK, city)
}

func (h *Handler) ListCityInvasions(c *gin.Context) {
	id, ok := parseID(c, schema.KindCity)
	if !ok {
		return
	}
	out, err := h.Service.ListCityInvasions(c.Request.Context(), id)
	if err != nil {
		h.fail(c, schema.KindCity, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListTribes(c *gin.Context) {
	out, err := h.Service.ListTribes(c.Request.Context())
	if err != nil {
		h.fail(c, schema.KindTribe, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetTribe(c *gin.Context) {
	id, ok := parseID(c, schema.KindTribe)
	if !ok {
		return
	}
	tribe, err := h.Service.GetTribe(c.Request.Context(), id)
	if err != nil {
		h.fail(c, schema.KindTribe, err)
		return
	}
	c.JSON(http.StatusOK, tribe)
}

func (h *Handler) ListTribeInvasions(c *gin.Context) {
	id, ok := parseID(c, schema.KindTribe)
	if !ok {
		return
	}
	out, err := h.Service.ListTribeInvasions(c.Request.Context(), id)
	if err != nil {
		h.fail(c, schema.KindTribe, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseID(c *gin.Context, kind schema.Kind) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + string(kind) + " id"})
		return 0, false
	}
	return id, true
}

// fail maps service errors onto status codes: unknown ids are 404, anything
// else is a dependency failure and 500.
func (h *Handler) fail(c *gin.Context, kind schema.Kind, err error) {
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": string(kind) + " not found"})
		return
	}
	h.logger().Error("request failed", "path", c.FullPath(), "error", err, "transient", service.IsTransient(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
