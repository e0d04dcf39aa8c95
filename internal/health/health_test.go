package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingerFunc func() error

func (f pingerFunc) Health() error { return f() }

func TestHealthChecker(t *testing.T) {
	ok := pingerFunc(func() error { return nil })
	down := pingerFunc(func() error { return errors.New("connection refused") })

	t.Run("依赖正常", func(t *testing.T) {
		hc := NewHealthChecker(ok, nil, nil)

		rec := httptest.NewRecorder()
		hc.ReadyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		results := hc.CheckHealth()
		assert.Equal(t, "OK", results["database"])
		assert.Equal(t, "NOT_AVAILABLE", results["redis"])
		assert.True(t, hc.Healthy())
	})

	t.Run("依赖故障时未就绪但仍存活", func(t *testing.T) {
		hc := NewHealthChecker(ok, down, nil)

		rec := httptest.NewRecorder()
		hc.ReadyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = httptest.NewRecorder()
		hc.LiveHandler(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		assert.Contains(t, hc.CheckHealth()["redis"], "connection refused")
		assert.False(t, hc.Healthy())
	})
}
