// Package viewer is the composition root: it wires the map surface, layers,
// attribute table, edit session and change consumer around one event loop.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/layersync/internal/attrsync"
	"github.com/mohammed-shakir/layersync/internal/cache/redisstore"
	"github.com/mohammed-shakir/layersync/internal/core/config"
	"github.com/mohammed-shakir/layersync/internal/core/httpclient"
	"github.com/mohammed-shakir/layersync/internal/core/model"
	"github.com/mohammed-shakir/layersync/internal/crud"
	"github.com/mohammed-shakir/layersync/internal/edit"
	"github.com/mohammed-shakir/layersync/internal/eventloop"
	"github.com/mohammed-shakir/layersync/internal/invalidation"
	"github.com/mohammed-shakir/layersync/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/layersync/internal/layers"
	"github.com/mohammed-shakir/layersync/internal/mapview"
	"github.com/mohammed-shakir/layersync/internal/spatialquery"
)

const (
	redisPrefix = "layersync:resp:"
	editLayer   = "stations"
)

type Viewer struct {
	cfg    config.Config
	logger *slog.Logger

	loop     *eventloop.Loop
	view     *mapview.Map
	hub      *attrsync.Hub
	registry *layers.Registry
	filters  *layers.FilterState
	edits    *edit.Session
	table    *crud.Client
	cache    *spatialquery.Cached
	redis    *redisstore.Client
	applier  *invalidation.Applier
	consumer *kafkaconsumer.Consumer
	specs    []layers.Spec

	unsubZoom func()
	closeOnce sync.Once
}

// New builds the viewer. Nothing runs until Run is called. An unreachable
// redis degrades to the in-process cache only.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Viewer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	specs := layers.DefaultCatalog()
	if cfg.LayerCatalog != "" {
		var err error
		if specs, err = layers.LoadCatalog(cfg.LayerCatalog, specs); err != nil {
			return nil, err
		}
	}

	hc := httpclient.NewOutbound(cfg.BackendTimeout)
	backend, err := spatialquery.New(logger.With("component", "spatialquery"), hc, cfg.BackendURL)
	if err != nil {
		return nil, err
	}
	table, err := crud.New(logger.With("component", "crud"), hc, cfg.BackendURL)
	if err != nil {
		return nil, err
	}

	v := &Viewer{
		cfg:      cfg,
		logger:   logger,
		loop:     eventloop.New(logger.With("component", "eventloop")),
		hub:      attrsync.New(logger.With("component", "attrsync"), layers.TableKeys(specs)...),
		registry: layers.NewRegistry(logger.With("component", "registry")),
		filters:  &layers.FilterState{StationCode: cfg.StationCode, Division: cfg.Division},
		table:    table,
		specs:    specs,
	}

	var remote spatialquery.Store
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr, redisPrefix)
		if err != nil {
			logger.Warn("shared response cache unavailable, continuing without it", "addr", cfg.RedisAddr, "err", err)
		} else {
			v.redis = rc
			remote = rc
		}
	}
	v.cache = spatialquery.NewCached(logger.With("component", "response_cache"), backend, remote, spatialquery.CachedConfig{
		Size:      cfg.ResponseCacheSize,
		TTL:       cfg.ResponseCacheTTL,
		OpTimeout: cfg.CacheOpTimeout,
	})

	v.view = mapview.New(logger.With("component", "mapview"), v.loop, mapview.Config{
		Padding:        cfg.FitPadding,
		PointZoomFloor: cfg.PointZoomFloor,
		HighlightDwell: cfg.HighlightDwell,
	}, model.Viewport{Bounds: cfg.InitialView, Zoom: cfg.InitialZoom})

	v.edits = edit.New(logger.With("component", "edit"), v.loop, table, func() {
		v.cache.Purge()
		v.registry.RefreshVisible(v.view)
	}, edit.Config{Layers: []string{editLayer}, Timeout: cfg.BackendTimeout})

	ls, err := layers.Build(specs, layers.Deps{
		Logger:   logger.With("component", "layers"),
		Sched:    v.loop,
		Query:    v.cache,
		Sink:     v.hub,
		Selector: v.edits,
		Filters:  v.filters,
		Timeout:  cfg.BackendTimeout,
	})
	if err != nil {
		v.Close()
		return nil, err
	}
	for _, l := range ls {
		v.registry.RegisterOnce(l)
	}

	v.unsubZoom = v.hub.SubscribeZoom(func(z attrsync.ZoomToFeature) { v.view.FocusFeature(z.Feature) })

	v.applier = invalidation.NewApplier(logger.With("component", "invalidation"), v.loop, v.registry, v.view, v.edits, v.cache)
	if cfg.Invalidation.Enabled {
		v.consumer = kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation),
			logger.With("component", "change_consumer"), v.applier)
	}
	return v, nil
}

// Run drives the event loop, attaches every layer once the surface is ready
// and runs the change consumer when enabled. It returns when ctx is done.
func (v *Viewer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- v.loop.Run(ctx)
	}()

	v.loop.Post(func() {
		v.registry.AddAll(v.view)
		v.view.SetReady()
		v.logger.Info("viewer ready", "layers", len(v.specs), "viewport", v.view.Viewport().String())
	})

	if v.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := v.consumer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("change consumer: %w", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	v.loop.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (v *Viewer) Close() {
	v.closeOnce.Do(func() {
		if v.unsubZoom != nil {
			v.unsubZoom()
		}
		if v.redis != nil {
			if err := v.redis.Close(); err != nil {
				v.logger.Warn("redis close", "err", err)
			}
		}
	})
}

func (v *Viewer) Catalog() []layers.Spec { return v.specs }

// Ready reports whether the surface has been marked ready.
func (v *Viewer) Ready(ctx context.Context) bool {
	var ok bool
	if err := v.loop.Do(ctx, func() { ok = v.view.Ready() }); err != nil {
		return false
	}
	return ok
}

// ChangeConsumer is nil unless invalidation is enabled.
func (v *Viewer) ChangeConsumer() *kafkaconsumer.Consumer { return v.consumer }

// Applier is exposed so changes can also be pushed without Kafka.
func (v *Viewer) Applier() *invalidation.Applier { return v.applier }
