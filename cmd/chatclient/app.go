package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jrsteele09/go-chat-session/auth"
	"github.com/jrsteele09/go-chat-session/events"
	"github.com/jrsteele09/go-chat-session/internal/config"
	"github.com/jrsteele09/go-chat-session/offline"
	"github.com/jrsteele09/go-chat-session/sessions"
	"github.com/jrsteele09/go-chat-session/storage"
	"github.com/jrsteele09/go-chat-session/storage/filestore"
	"github.com/jrsteele09/go-chat-session/storage/memstore"
	"github.com/jrsteele09/go-chat-session/storage/redisstore"
	"github.com/rs/zerolog/log"
)

// app wires the client core for one tab.
type app struct {
	cfg     config.Config
	bus     *events.Bus
	store   *sessions.TokenStore
	manager *auth.SessionManager
	outbox  *offline.Manager
	monitor *offline.Monitor
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, tab string) (*app, error) {
	a := &app{cfg: cfg, bus: events.NewBus()}

	durable, tabStore, err := a.openStores(ctx, tab)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store = sessions.NewTokenStore(durable, tabStore, sessions.WithMaxSessions(cfg.GetMaxSessions()))
	a.manager = auth.NewSessionManager(cfg, a.store, a.bus, cfg.GetAPIBaseURL())
	a.outbox = offline.New(a.manager, durable, a.bus, offline.WithSyncRate(cfg.GetSyncRatePerSecond()))
	a.monitor = offline.NewMonitor(a.manager.Executor(), cfg.GetConnectivityProbePath(), a.outbox, cfg.GetConnectivityProbeInterval())

	a.bus.Subscribe(events.AuthFailure, func(ev events.Event) {
		if p, ok := ev.Payload.(events.AuthFailurePayload); ok {
			fmt.Printf("signed out: %s\n", p.Message)
		}
	})

	if err := a.outbox.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	if err := a.manager.Init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		a.manager.Shutdown()
		a.outbox.Wait()
		return nil
	})
	return a, nil
}

// openStores returns the durable store shared by every tab and the store
// holding this tab's binding. The binding always lives on local disk, except
// with the memory backend.
func (a *app) openStores(ctx context.Context, tab string) (storage.Store, storage.Store, error) {
	folder := a.cfg.GetDataFolder()

	switch a.cfg.GetStorageBackend() {
	case config.StorageMemory:
		return memstore.New(), memstore.New(), nil
	case config.StorageRedis:
		durable, err := redisstore.New(ctx, redisstore.Options{
			Addr:     a.cfg.GetRedisAddr(),
			Password: a.cfg.GetRedisPassword(),
			DB:       a.cfg.GetRedisDB(),
			Prefix:   a.cfg.GetRedisPrefix(),
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, durable.Close)
		tabStore, err := filestore.New(filepath.Join(folder, "tabs", tab), filestore.WithSecret(a.cfg.GetStorageSecret()))
		if err != nil {
			return nil, nil, err
		}
		return durable, tabStore, nil
	case config.StorageFile:
		durable, err := filestore.New(filepath.Join(folder, "shared"), filestore.WithSecret(a.cfg.GetStorageSecret()))
		if err != nil {
			return nil, nil, err
		}
		tabStore, err := filestore.New(filepath.Join(folder, "tabs", tab), filestore.WithSecret(a.cfg.GetStorageSecret()))
		if err != nil {
			return nil, nil, err
		}
		return durable, tabStore, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", a.cfg.GetStorageBackend())
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("close")
	}
}
