package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/config"
	"github.com/jingkaihe/switchboard/pkg/engine"
	"github.com/jingkaihe/switchboard/pkg/matcher"
	"github.com/jingkaihe/switchboard/pkg/performer"
	"github.com/jingkaihe/switchboard/pkg/planstore"
	"github.com/jingkaihe/switchboard/pkg/registry"
)

// app is what most commands need: a loaded registry, an engine over it and
// the plan store.
type app struct {
	holder *registry.Holder
	engine *engine.Engine
	store  planstore.Store
}

func (a *app) Close() error {
	return a.store.Close()
}

// registrySources turns the registry settings into sources. The markdown
// directories come first, then each YAML catalog.
func registrySources(rc config.RegistryConfig) ([]registry.Source, error) {
	var opts []registry.MarkdownOption
	if len(rc.AgentDirs) > 0 {
		opts = append(opts, registry.WithAgentDirs(rc.AgentDirs...))
	}
	if len(rc.SkillDirs) > 0 {
		opts = append(opts, registry.WithSkillDirs(rc.SkillDirs...))
	}
	md, err := registry.NewMarkdownSource(opts...)
	if err != nil {
		return nil, err
	}

	sources := []registry.Source{md}
	for _, f := range rc.Files {
		sources = append(sources, registry.YAMLSource{Path: f})
	}
	return sources, nil
}

// loadRegistry loads and validates every source. A RegistryError here
// aborts the command before any work is done.
func loadRegistry(ctx context.Context) (*registry.Holder, error) {
	sources, err := registrySources(cfg.Registry)
	if err != nil {
		return nil, err
	}
	return registry.Open(ctx, sources...)
}

func newEngine(holder *registry.Holder) (*engine.Engine, error) {
	perf, err := performer.New(cfg.Performer.Kind, cfg.Performer.Command, cfg.Performer.Args)
	if err != nil {
		return nil, err
	}
	return engine.New(holder, perf,
		engine.WithMatcher(matcher.New(cfg.MatcherOptions())),
		engine.WithStepTimeout(cfg.Executor.StepTimeout),
		engine.WithStrictBoundaries(cfg.Executor.StrictBoundaries),
		engine.WithMaxHandoffDepth(cfg.Engine.MaxHandoffDepth),
	), nil
}

func openStore(ctx context.Context) (planstore.Store, error) {
	return planstore.New(ctx, cfg.PlanStore())
}

func newApp(ctx context.Context) (*app, error) {
	holder, err := loadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	eng, err := newEngine(holder)
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open plan store")
	}
	return &app{holder: holder, engine: eng, store: store}, nil
}
