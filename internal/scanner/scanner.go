package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LouisBoudreau/licensed/internal/cache"
	"github.com/LouisBoudreau/licensed/internal/clients"
	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/reconciler"
	"github.com/LouisBoudreau/licensed/internal/shell"
	"github.com/LouisBoudreau/licensed/internal/sources"
)

// Scanner orchestrates an audit cycle over every enabled source
type Scanner struct {
	config   *models.Config
	sources  []sources.Source
	store    *cache.Store
	enricher reconciler.Enricher
	logger   *zap.Logger
}

// New creates a Scanner for the configured project using the ecosystem tools on PATH
func New(config *models.Config, logger *zap.Logger) (*Scanner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewWithSources(config, sources.All(config, shell.NewOSRunner(), logger), logger)
}

// NewWithSources creates a Scanner over the given sources
func NewWithSources(config *models.Config, srcs []sources.Source, logger *zap.Logger) (*Scanner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := cache.New(config.CachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", config.CachePath, err)
	}

	s := &Scanner{
		config:  config,
		sources: srcs,
		store:   store,
		logger:  logger,
	}
	if config.RegistryLookup {
		s.enricher = clients.NewRegistryClient()
	}
	return s, nil
}

// Run reconciles every enabled source and updates the cache
func (s *Scanner) Run(ctx context.Context) (models.Report, error) {
	return s.scan(ctx, false)
}

// Status classifies every dependency without writing to the cache
func (s *Scanner) Status(ctx context.Context) (models.Report, error) {
	return s.scan(ctx, true)
}

// Enumerated is the dependencies of one source
type Enumerated struct {
	Source       string
	Dependencies []models.Dependency
}

// List enumerates every enabled source without consulting the cache
func (s *Scanner) List(ctx context.Context) ([]Enumerated, []models.SourceError, error) {
	var (
		mu     sync.Mutex
		lists  []Enumerated
		failed []models.SourceError
	)

	err := s.each(ctx, func(ctx context.Context, src sources.Source) {
		deps, err := src.EnumerateDependencies(ctx)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed = append(failed, models.SourceError{Source: src.Type(), Err: err})
			return
		}
		lists = append(lists, Enumerated{Source: src.Type(), Dependencies: deps})
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(lists, func(i, j int) bool { return lists[i].Source < lists[j].Source })
	sortSourceErrors(failed)
	return lists, failed, nil
}

func (s *Scanner) scan(ctx context.Context, dryRun bool) (models.Report, error) {
	rec := reconciler.New(s.store, reconciler.Options{
		DryRun:   dryRun,
		Workers:  s.config.Workers,
		Enricher: s.enricher,
	}, s.logger)

	var (
		mu     sync.Mutex
		report models.Report
	)

	err := s.each(ctx, func(ctx context.Context, src sources.Source) {
		results, err := s.reconcileSource(ctx, rec, src)

		mu.Lock()
		defer mu.Unlock()
		report.Sources = append(report.Sources, src.Type())
		if err != nil {
			report.SourceErrors = append(report.SourceErrors, models.SourceError{Source: src.Type(), Err: err})
			return
		}
		report.Results = append(report.Results, results...)
	})
	if err != nil {
		return models.Report{}, err
	}

	sort.Strings(report.Sources)
	sortSourceErrors(report.SourceErrors)
	sortResults(report.Results)
	return report, nil
}

// reconcileSource enumerates one source and reconciles its dependencies.
// Removal is only decided after a successful enumeration.
func (s *Scanner) reconcileSource(ctx context.Context, rec *reconciler.Reconciler, src sources.Source) ([]models.Result, error) {
	logger := s.logger.With(zap.String("source", src.Type()))

	deps, err := src.EnumerateDependencies(ctx)
	if err != nil {
		var cerr *sources.ConfigurationError
		if errors.As(err, &cerr) && cerr.Output != "" {
			logger.Error("source enumeration failed", zap.Error(err), zap.String("output", cerr.Output))
		} else {
			logger.Error("source enumeration failed", zap.Error(err))
		}
		return nil, err
	}
	logger.Info("enumerated dependencies", zap.Int("count", len(deps)))

	return rec.ReconcileSource(ctx, src.Type(), deps)
}

// each runs fn for every enabled source in parallel. Failures are reported
// by fn, so one source never stops the others.
func (s *Scanner) each(ctx context.Context, fn func(context.Context, sources.Source)) error {
	var g errgroup.Group
	g.SetLimit(max(s.config.Workers, 1))

	for _, src := range s.enabled() {
		g.Go(func() error {
			fn(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// enabled returns the configured sources that apply to the project
func (s *Scanner) enabled() []sources.Source {
	var out []sources.Source
	for _, src := range s.sources {
		if !s.config.SourceEnabled(src.Type()) {
			s.logger.Debug("source disabled by configuration", zap.String("source", src.Type()))
			continue
		}
		if !src.Enabled() {
			s.logger.Debug("source does not apply", zap.String("source", src.Type()))
			continue
		}
		out = append(out, src)
	}
	return out
}

func sortResults(results []models.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Dependency, results[j].Dependency
		if a.Type() != b.Type() {
			return a.Type() < b.Type()
		}
		return a.Name < b.Name
	})
}

func sortSourceErrors(errs []models.SourceError) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Source < errs[j].Source })
}
