package metrics

import (
	"errors"
	golog "log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/popbox/popbox/mlog"
)

// Serve starts an HTTP server on addr in the background, serving the metrics at
// /metrics. The listener is opened before returning, so address errors are
// returned immediately. The server is stopped by closing it.
func Serve(elog *slog.Logger, addr string) (*http.Server, net.Addr, error) {
	log := mlog.New("metrics", elog)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ErrorLog:          golog.New(mlog.ErrWriter(log, mlog.LevelInfo, "metrics http server error"), "", 0),
	}
	log.Print("serving metrics", slog.String("address", ln.Addr().String()))
	go func() {
		err := srv.Serve(ln)
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorx("metrics http server", err)
		}
	}()
	return srv, ln.Addr(), nil
}
