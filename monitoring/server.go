package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"ticket-engine/security"
	"ticket-engine/utils"
)

// SweepFunc runs one expiry sweep pass and reports how many reservations it
// released.
type SweepFunc func(ctx context.Context) (int, error)

// NewOpsServer builds the internal ops listener: prometheus metrics, a health
// probe, and a manual sweep trigger for operators. It binds separately from
// the public API so it never has to be exposed.
func NewOpsServer(addr string, redisClient *redis.Client, sweep SweepFunc, opsTokenHash string) *http.Server {
	e := echo.New()

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/healthz", func(c echo.Context) error {
		if err := utils.RedisHealthCheck(redisClient); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	e.POST("/ops/sweep-reservations", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
		defer cancel()

		expired, err := sweep(ctx)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]any{"expired": expired})
	}, security.OpsAuth(opsTokenHash))

	return &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
