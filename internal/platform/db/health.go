package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const pingTimeout = 3 * time.Second

// Probe describes the store behind /health/db. Ping and Stats may be nil.
type Probe struct {
	Driver string
	Ping   func(ctx context.Context) error
	Stats  func() any
}

type pgxStats struct {
	Total        int32  `json:"total_conns"`
	Idle         int32  `json:"idle_conns"`
	InUse        int32  `json:"acquired_conns"`
	Max          int32  `json:"max_conns"`
	Acquires     int64  `json:"acquire_count"`
	EmptyWaits   int64  `json:"empty_acquire_count"`
	AcquireTotal string `json:"acquire_duration"`
}

// PoolProbe probes a pgx pool.
func PoolProbe(pool *pgxpool.Pool) Probe {
	return Probe{
		Driver: "pgx",
		Ping:   pool.Ping,
		Stats: func() any {
			s := pool.Stat()
			return pgxStats{
				Total:        s.TotalConns(),
				Idle:         s.IdleConns(),
				InUse:        s.AcquiredConns(),
				Max:          s.MaxConns(),
				Acquires:     s.AcquireCount(),
				EmptyWaits:   s.EmptyAcquireCount(),
				AcquireTotal: s.AcquireDuration().String(),
			}
		},
	}
}

type healthBody struct {
	Status  string  `json:"status"`
	Driver  string  `json:"driver"`
	Latency float64 `json:"latency_ms"`
	Error   string  `json:"error,omitempty"`
	Pool    any     `json:"pool,omitempty"`
}

// HealthHandler pings the store and reports 200 or 503.
func HealthHandler(p Probe) echo.HandlerFunc {
	return func(c echo.Context) error {
		body := healthBody{Status: "healthy", Driver: p.Driver}
		code := http.StatusOK

		if p.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), pingTimeout)
			start := time.Now()
			err := p.Ping(ctx)
			cancel()
			body.Latency = float64(time.Since(start).Microseconds()) / 1000
			if err != nil {
				body.Status, body.Error = "unhealthy", err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		if p.Stats != nil {
			body.Pool = p.Stats()
		}
		return c.JSON(code, body)
	}
}
