package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jgoldverg/xdccget/internal"
	"github.com/jgoldverg/xdccget/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsServer struct {
	srv  *http.Server
	addr string
}

// serveMetrics exposes the collector at /metrics until shutdown is called.
func serveMetrics(addr string, collector *metrics.TransferCollector) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))

	ms := &metricsServer{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr: ln.Addr().String(),
	}
	go func() {
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			internal.Warn("metrics server stopped", internal.Fields{internal.FieldError: err.Error()})
		}
	}()
	internal.Info("serving metrics", internal.Fields{internal.FieldServer: "http://" + ms.addr + "/metrics"})
	return ms, nil
}

func (ms *metricsServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = ms.srv.Shutdown(ctx)
}
