package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/itsneelabh/ordregistry/core"
	"github.com/itsneelabh/ordregistry/pkg/logger"
	"github.com/itsneelabh/ordregistry/registry"
	"github.com/itsneelabh/ordregistry/telemetry"
)

// app is one wired registry process.
type app struct {
	cfg       *core.Config
	logger    *logger.ZapLogger
	telemetry *telemetry.OTelProvider
	store     core.ResourceStore
	engine    *registry.Engine

	closers []func(context.Context) error
}

func (c *cli) newApp(ctx context.Context) (*app, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logging, c.stderr)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func(context.Context) error {
		_ = log.Sync()
		return nil
	})

	var tel core.Telemetry = &core.NoOpTelemetry{}
	if cfg.Telemetry.Enabled {
		p, err := telemetry.NewOTelProvider(ctx, cfg.Telemetry,
			telemetry.WithLogger(log.With(map[string]interface{}{"component": "telemetry"})),
			telemetry.WithServiceVersion(Version),
			telemetry.WithGlobal(),
		)
		if err != nil {
			return nil, err
		}
		a.telemetry = p
		a.closers = append(a.closers, p.Shutdown)
		tel = p
	}

	store, closeStore, err := openStore(ctx, cfg.Store, log.With(map[string]interface{}{"component": "store"}))
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.store = store
	if closeStore != nil {
		a.closers = append(a.closers, func(context.Context) error { return closeStore() })
	}

	if seed := c.seedFile(); seed != "" {
		mem, ok := store.(*core.MemoryStore)
		if !ok {
			_ = a.close(ctx)
			return nil, fmt.Errorf("--seed needs the memory store, not %q: %w", cfg.Store.Provider, core.ErrInvalidConfiguration)
		}
		if err := seedMemoryStore(ctx, mem, seed); err != nil {
			_ = a.close(ctx)
			return nil, err
		}
	}

	a.engine = registry.NewEngine(store, cfg,
		registry.WithLogger(log.With(map[string]interface{}{"component": "registry"})),
		registry.WithTelemetry(tel),
	)
	return a, nil
}

// close runs the closers in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore creates the store named by cfg.Provider. The returned close
// function is nil for stores without resources to release.
func openStore(ctx context.Context, cfg core.StoreConfig, log core.Logger) (core.ResourceStore, func() error, error) {
	switch cfg.Provider {
	case "", "memory":
		s := core.NewMemoryStore()
		s.SetLogger(log)
		return s, nil, nil
	case "redis":
		s, err := core.NewRedisStore(cfg.RedisURL, cfg.Namespace)
		if err != nil {
			return nil, nil, err
		}
		s.SetLogger(log)
		return s, s.Close, nil
	case "postgres":
		s, err := core.NewSQLStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s.SetLogger(log)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store provider %q: %w", cfg.Provider, core.ErrInvalidConfiguration)
	}
}

// seedFile is the document accepted by --seed.
type seedFile struct {
	Resources []*core.Resource    `json:"resources" yaml:"resources"`
	Agents    []*core.AgentRecord `json:"agents" yaml:"agents"`
}

func seedMemoryStore(ctx context.Context, store *core.MemoryStore, path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// yaml.v3 ignores json tags; round-trip through JSON so both formats
		// share one set of field names.
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}
		fallthrough
	case ".json":
		if err := json.Unmarshal(data, &seed); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}
	default:
		return fmt.Errorf("seed file %s must be .json, .yaml or .yml: %w", path, core.ErrInvalidConfiguration)
	}

	// null entries are skipped.
	for _, r := range seed.Resources {
		if r == nil {
			continue
		}
		if err := store.UpsertResource(ctx, r); err != nil {
			return fmt.Errorf("seed resource %s: %w", r.ID, err)
		}
	}
	for _, rec := range seed.Agents {
		if rec == nil {
			continue
		}
		store.PutAgentRecord(rec)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
