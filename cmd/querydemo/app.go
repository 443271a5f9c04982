package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/genstore"
	asynchook "github.com/unkn0wn-root/querycache/hooks/async"
	"github.com/unkn0wn-root/querycache/internal/config"
	"github.com/unkn0wn-root/querycache/internal/logger"
	"github.com/unkn0wn-root/querycache/internal/todoapi"
	zapadapter "github.com/unkn0wn-root/querycache/log/zap"
	"github.com/unkn0wn-root/querycache/promhooks"
	"github.com/unkn0wn-root/querycache/provider"
	"github.com/unkn0wn-root/querycache/provider/bigcache"
	"github.com/unkn0wn-root/querycache/provider/memory"
	redisprovider "github.com/unkn0wn-root/querycache/provider/redis"
	"github.com/unkn0wn-root/querycache/provider/ristretto"
	"github.com/unkn0wn-root/querycache/resource"
)

// app is everything a command needs; close releases it in reverse order.
type app struct {
	log     *zap.Logger
	backend *todoapi.Store
	client  *querycache.Client
	hooks   *asynchook.Hooks
	todos   *resource.Resource[todoapi.Todo, string]
	metrics *http.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	zl, err := logger.Build(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, ServiceName: "querydemo"})
	if err != nil {
		return nil, err
	}
	a := &app{log: zl}

	a.backend, err = todoapi.Open(cfg.DB, todoapi.Options{
		Latency:  cfg.Latency(),
		FailRate: cfg.Backend.FailRate,
	})
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	reg := prometheus.NewRegistry()
	ph, err := promhooks.New(reg, "querydemo")
	if err != nil {
		a.close()
		return nil, err
	}
	// hooks run under the store lock
	a.hooks = asynchook.New(ph, 1, 1024)

	prov, gens, err := newStorage(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.client, err = querycache.New(querycache.Options{
		Namespace: cfg.Cache.Namespace,
		Provider:  prov,
		GenStore:  gens,
		Logger:    zapadapter.New(zl),
		Hooks:     a.hooks,
		StaleTime: cfg.StaleTime(),
		GCTime:    cfg.GCTime(),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	listCodec, itemCodec, err := newCodecs(cfg.Cache.Codec)
	if err != nil {
		a.close()
		return nil, err
	}
	a.todos = resource.New[todoapi.Todo, string](a.client, "todos", a.backend,
		func(t todoapi.Todo) string { return t.ID },
		resource.Options[todoapi.Todo]{ListCodec: listCodec, ItemCodec: itemCodec})

	if cfg.Metrics.Addr != "" {
		a.metrics = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zl.Error("metrics server", zap.Error(err))
			}
		}()
		zl.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}
	return a, nil
}

func newStorage(ctx context.Context, cfg *config.Config) (provider.Provider, genstore.GenStore, error) {
	switch cfg.Cache.Provider {
	case "memory":
		return memory.New(10 * time.Minute), nil, nil
	case "ristretto":
		p, err := ristretto.New(ristretto.Config{NumCounters: 1e5, MaxCost: 1 << 26, BufferItems: 64})
		return p, nil, err
	case "bigcache":
		p, err := bigcache.New(ctx, bigcache.Config{LifeWindow: 30 * time.Minute, CleanWindow: 5 * time.Minute})
		return p, nil, err
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Cache.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.Cache.RedisAddr, err)
		}
		p, err := redisprovider.New(redisprovider.Config{Client: rdb})
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		// the genstore owns the client and closes it
		return p, genstore.NewRedis(rdb, cfg.Cache.Namespace, 24*time.Hour), nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Cache.Provider)
	}
}

func newCodecs(name string) (codec.Codec[[]todoapi.Todo], codec.Codec[todoapi.Todo], error) {
	switch name {
	case "json":
		return codec.JSON[[]todoapi.Todo]{}, codec.JSON[todoapi.Todo]{}, nil
	case "msgpack":
		return codec.Msgpack[[]todoapi.Todo]{}, codec.Msgpack[todoapi.Todo]{}, nil
	case "cbor":
		l, err := codec.NewCBOR[[]todoapi.Todo](false)
		if err != nil {
			return nil, nil, err
		}
		i, err := codec.NewCBOR[todoapi.Todo](false)
		return l, i, err
	default:
		return nil, nil, fmt.Errorf("unknown codec %q", name)
	}
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	if a.client != nil {
		if err := a.client.Close(ctx); err != nil {
			a.log.Warn("close cache", zap.Error(err))
		}
	}
	if a.hooks != nil {
		a.hooks.Close()
		if n := a.hooks.Dropped(); n > 0 {
			a.log.Warn("hook events dropped", zap.Uint64("count", n))
		}
	}
	if a.backend != nil {
		_ = a.backend.Close()
	}
	_ = a.log.Sync()
}
