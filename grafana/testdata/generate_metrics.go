// Command generate_metrics serves synthetic lmaudit orchestrator metrics so
// Grafana dashboards can be built without a live audit workload.
//
//	go run ./grafana/testdata -addr :9091
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
)

func main() {
	addr := flag.String("addr", ":9091", "listen address")
	interval := flag.Duration("interval", 5*time.Second, "how often a synthetic task batch is recorded")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := orchestrator.NewMetrics(reg)

	seed(m)
	go simulate(ctx, m, *interval)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("serving synthetic lmaudit metrics on %s/metrics", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("metrics server: %v", err)
	}
}

// seed records a backlog of finished tasks so rate panels have history.
func seed(m *orchestrator.Metrics) {
	for i := 0; i < 20; i++ {
		task(m, rand.Intn(15)+1)
	}
}

func simulate(ctx context.Context, m *orchestrator.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.TasksRunning.Set(float64(rand.Intn(4)))
			if rand.Float64() > 0.4 {
				task(m, rand.Intn(10)+1)
			}
		}
	}
}

// task records one bulk task of n products. Most products pass, some fail
// at fetch and an occasional task is cancelled part way.
func task(m *orchestrator.Metrics, n int) {
	if rand.Float64() < 0.05 {
		m.TasksTotal.WithLabelValues(string(orchestrator.StateFailed)).Inc()
		return
	}
	cancelAt := n
	if rand.Float64() < 0.1 {
		cancelAt = rand.Intn(n)
	}
	for i := 0; i < cancelAt; i++ {
		m.ProductDuration.Observe(2 + rand.ExpFloat64()*8)
		if rand.Float64() < 0.15 {
			m.ProductsTotal.WithLabelValues("failed").Inc()
		} else {
			m.ProductsTotal.WithLabelValues("ok").Inc()
		}
	}
	if skipped := n - cancelAt; skipped > 0 {
		m.ProductsTotal.WithLabelValues("cancelled").Add(float64(skipped))
	}
	m.TasksTotal.WithLabelValues(string(orchestrator.StateCompleted)).Inc()
}
