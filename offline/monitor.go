package offline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jrsteele09/go-chat-session/client"
	apperrors "github.com/jrsteele09/go-chat-session/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prober sends unauthenticated requests. *client.Executor implements it.
type Prober interface {
	DoUnauthenticated(ctx context.Context, req client.Request) (*client.Response, error)
}

// ConnectivityTarget receives connectivity changes. *Manager implements it.
type ConnectivityTarget interface {
	SetOnline(online bool)
}

// Monitor polls the backend health endpoint and reports reachability to its
// target. Any HTTP answer counts as reachable; only transport failures count
// as offline.
type Monitor struct {
	prober   Prober
	path     string
	target   ConnectivityTarget
	interval time.Duration
	logger   zerolog.Logger
}

func NewMonitor(prober Prober, path string, target ConnectivityTarget, interval time.Duration) *Monitor {
	return &Monitor{
		prober:   prober,
		path:     path,
		target:   target,
		interval: interval,
		logger:   log.Logger,
	}
}

func (mon *Monitor) WithLogger(logger zerolog.Logger) *Monitor {
	mon.logger = logger
	return mon
}

// Check probes once and forwards the result. It reports whether the backend
// was reachable.
func (mon *Monitor) Check(ctx context.Context) bool {
	_, err := mon.prober.DoUnauthenticated(ctx, client.Request{Method: http.MethodGet, Path: mon.path})
	if ctx.Err() != nil {
		return false
	}
	online := err == nil || !errors.Is(err, apperrors.ErrNetwork)
	if err != nil && online {
		mon.logger.Debug().Err(err).Msg("health probe answered with an error")
	}
	mon.target.SetOnline(online)
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (mon *Monitor) Run(ctx context.Context) {
	mon.Check(ctx)

	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mon.Check(ctx)
		}
	}
}
