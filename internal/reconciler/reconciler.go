// Package reconciler compares enumerated dependencies against their cached
// records and keeps the cache in step with what is installed.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/git-pkgs/vers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LouisBoudreau/licensed/internal/cache"
	"github.com/LouisBoudreau/licensed/internal/licenses"
	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/record"
)

// Enricher adds registry metadata to a newly captured record
type Enricher interface {
	Enrich(ctx context.Context, dep models.Dependency) (map[string]string, error)
}

// Options configures reconciliation
type Options struct {
	// DryRun classifies dependencies without writing to the cache
	DryRun   bool
	Workers  int
	Enricher Enricher
}

// Reconciler applies the cache state machine to enumerated dependencies
type Reconciler struct {
	store   *cache.Store
	options Options
	logger  *zap.Logger
}

// New creates a Reconciler backed by store
func New(store *cache.Store, options Options, logger *zap.Logger) *Reconciler {
	if options.Workers < 1 {
		options.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, options: options, logger: logger}
}

// ReconcileSource reconciles every dependency of one source and then marks
// records of dependencies that are no longer enumerated as removed. Callers
// must only pass sources whose enumeration succeeded.
func (r *Reconciler) ReconcileSource(ctx context.Context, sourceType string, deps []models.Dependency) ([]models.Result, error) {
	results := make([]models.Result, len(deps))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.options.Workers)
	for i, dep := range deps {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = r.Reconcile(ctx, dep)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	removed, err := r.Prune(sourceType, deps)
	if err != nil {
		return nil, err
	}
	return append(results, removed...), nil
}

// Reconcile classifies one dependency against its cached record, updating
// the cache unless running dry
func (r *Reconciler) Reconcile(ctx context.Context, dep models.Dependency) models.Result {
	sourceType := dep.Type()
	result := models.Result{Dependency: dep, CachePath: r.store.Path(sourceType, dep.Name)}
	logger := r.logger.With(zap.String("type", sourceType), zap.String("dependency", dep.String()))

	unlock := r.store.Lock(sourceType, dep.Name)
	defer unlock()

	cached, err := r.store.Load(sourceType, dep.Name)
	if err != nil {
		var serr *record.SerializationError
		if errors.As(err, &serr) {
			logger.Warn("discarding unreadable cached record", zap.Error(err))
		} else {
			logger.Error("unable to load cached record", zap.Error(err))
		}
		result.Err = err
		cached = nil
	}

	if cached == nil {
		result.Status = models.StatusNew
		r.record(ctx, dep, &result, logger)
		return result
	}

	if previous := cached.GetString(record.KeyVersion); !dep.Unversioned() && previous != dep.Version {
		result.Status = models.StatusVersionChanged
		result.Detail = versionDetail(previous, dep.Version)
		// The previous record stays in place until the new one is written
		r.record(ctx, dep, &result, logger)
		return result
	}

	licenseText, notices, err := licenses.Capture(dep.Path)
	if err != nil {
		result.Status = models.StatusStaleContent
		result.Detail = "unable to read installed license files"
		result.Err = err
		return result
	}

	if cached.Matches(record.New(licenseText, notices, nil)) {
		result.Status = models.StatusUnchanged
		return result
	}

	// The cached record is left untouched for a reviewer
	result.Status = models.StatusStaleContent
	result.Detail = "installed license text differs from the cached record"
	logger.Info("license text changed")
	return result
}

// record captures and saves a fresh record for dep
func (r *Reconciler) record(ctx context.Context, dep models.Dependency, result *models.Result, logger *zap.Logger) {
	if r.options.DryRun {
		return
	}

	licenseText, notices, err := licenses.Capture(dep.Path)
	if err != nil {
		logger.Error("unable to capture license files", zap.Error(err))
		result.Err = errors.Join(result.Err, err)
		return
	}

	rec := record.New(licenseText, notices, r.metadata(ctx, dep, logger))
	if err := r.store.Save(dep.Type(), dep.Name, rec); err != nil {
		logger.Error("unable to write cached record", zap.String("path", result.CachePath), zap.Error(err))
		result.Err = errors.Join(result.Err, err)
		return
	}
	logger.Debug("cached dependency record", zap.String("status", string(result.Status)), zap.String("path", result.CachePath))
}

// metadata returns the record metadata of dep. Source metadata takes
// precedence over registry metadata.
func (r *Reconciler) metadata(ctx context.Context, dep models.Dependency, logger *zap.Logger) map[string]any {
	meta := map[string]any{record.KeyName: dep.Name}
	if !dep.Unversioned() {
		meta[record.KeyVersion] = dep.Version
	}

	if r.options.Enricher != nil {
		extra, err := r.options.Enricher.Enrich(ctx, dep)
		if err != nil {
			logger.Warn("registry lookup failed", zap.Error(err))
		}
		for k, v := range extra {
			if v != "" {
				meta[k] = v
			}
		}
	}

	for k, v := range dep.Metadata {
		if v != "" {
			meta[k] = v
		}
	}
	return meta
}

// Prune reports cached records of sourceType that no dependency in deps
// refers to, deleting them unless running dry
func (r *Reconciler) Prune(sourceType string, deps []models.Dependency) ([]models.Result, error) {
	names, err := r.store.Names(sourceType)
	if err != nil {
		return nil, fmt.Errorf("listing cached %s records: %w", sourceType, err)
	}

	current := make(map[string]bool, len(deps))
	for _, dep := range deps {
		current[dep.Name] = true
	}

	var results []models.Result
	for _, name := range names {
		if current[name] {
			continue
		}

		result := models.Result{
			Dependency: models.Dependency{Name: name, Metadata: map[string]string{models.MetadataType: sourceType}},
			Status:     models.StatusRemoved,
			CachePath:  r.store.Path(sourceType, name),
		}
		if cached, err := r.store.Load(sourceType, name); err == nil && cached != nil {
			result.Dependency.Version = cached.GetString(record.KeyVersion)
		}

		if !r.options.DryRun {
			unlock := r.store.Lock(sourceType, name)
			err := r.store.Delete(sourceType, name)
			unlock()
			if err != nil {
				return nil, fmt.Errorf("removing cached record %s: %w", result.CachePath, err)
			}
			r.logger.Info("removed cached record", zap.String("type", sourceType), zap.String("dependency", name))
		}
		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Dependency.Name < results[j].Dependency.Name })
	return results, nil
}

// versionDetail describes the direction of a version change
func versionDetail(previous, current string) string {
	if previous == "" {
		return fmt.Sprintf("now at %s", current)
	}
	switch c := vers.Compare(current, previous); {
	case c > 0:
		return fmt.Sprintf("upgraded %s -> %s", previous, current)
	case c < 0:
		return fmt.Sprintf("downgraded %s -> %s", previous, current)
	default:
		return fmt.Sprintf("changed %s -> %s", previous, current)
	}
}
