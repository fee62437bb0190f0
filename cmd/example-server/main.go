// Command example-server shows the limiter package wired into a plain
// net/http server without the ratelimitd config layer.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manenim/tenant-rate-limiter/pkg/limiter"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})

	gate := limiter.NewRedisLimiter(client,
		limiter.WithPrefix("demo:"),
		limiter.WithTimeout(100*time.Millisecond),
		limiter.WithLogger(logger),
	)
	defer gate.Close()

	// Tenant from the X-API-Key header; every key is on the free plan.
	resolver := limiter.TenantResolverFunc(func(r *http.Request) (string, limiter.Plan, error) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			return "", "", limiter.ErrEmptyTenant
		}
		return key, limiter.PlanFree, nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Pong!\n"))
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           limiter.Middleware(gate, resolver, logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("server listening", "addr", srv.Addr, "redis", redisAddr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
