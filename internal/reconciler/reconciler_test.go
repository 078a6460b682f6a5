package reconciler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/LouisBoudreau/licensed/internal/cache"
	"github.com/LouisBoudreau/licensed/internal/models"
	"github.com/LouisBoudreau/licensed/internal/record"
)

type fixture struct {
	root  string
	store *cache.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := cache.New(filepath.Join(root, ".licenses"))
	require.NoError(t, err)
	return &fixture{root: root, store: store}
}

// install writes a dependency directory containing the given license text
func (f *fixture) install(t *testing.T, name, version, license string) models.Dependency {
	t.Helper()
	dir := filepath.Join(f.root, "deps", name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "LICENSE"), []byte(license), 0644))

	dep, err := models.NewDependency(dir, name, version, "npm", map[string]string{models.MetadataHomepage: "https://example.com/" + name})
	require.NoError(t, err)
	return dep
}

func (f *fixture) cache(t *testing.T, name, version string, licenses ...record.License) {
	t.Helper()
	meta := map[string]any{"name": name, "type": "npm"}
	if version != "" {
		meta["version"] = version
	}
	require.NoError(t, f.store.Save("npm", name, record.New(licenses, nil, meta)))
}

func byName(results []models.Result) map[string]models.Result {
	out := make(map[string]models.Result, len(results))
	for _, r := range results {
		out[r.Dependency.Name] = r
	}
	return out
}

func TestReconcileSourceScenario(t *testing.T) {
	f := newFixture(t)

	// A: cached with bullets and entries in a different order than installed
	a := f.install(t, "a", "1.0.0", "* first item\n* second item\n")
	f.cache(t, "a", "1.0.0", record.License{Sources: []string{"LICENSE"}, Text: "- first item\n- second item\n"})

	// B: same version but the installed text changed
	b := f.install(t, "b", "1.0.0", "Apache License 2.0")
	f.cache(t, "b", "1.0.0", record.License{Sources: []string{"LICENSE"}, Text: "MIT License"})

	// C: upgraded
	c := f.install(t, "c", "2.0.0", "BSD-3-Clause")
	f.cache(t, "c", "1.0.0", record.License{Sources: []string{"LICENSE"}, Text: "BSD-2-Clause"})

	// D: no longer installed
	f.cache(t, "d", "1.0.0", record.License{Text: "ISC"})

	// E: not cached yet
	e := f.install(t, "e", "0.1.0", "MIT License")

	r := New(f.store, Options{Workers: 4}, nil)
	results, err := r.ReconcileSource(context.Background(), "npm", []models.Dependency{a, b, c, e})
	require.NoError(t, err)
	require.Len(t, results, 5)

	got := byName(results)
	assert.Equal(t, models.StatusUnchanged, got["a"].Status)
	assert.Equal(t, models.StatusStaleContent, got["b"].Status)
	assert.Equal(t, models.StatusVersionChanged, got["c"].Status)
	assert.Equal(t, "upgraded 1.0.0 -> 2.0.0", got["c"].Detail)
	assert.Equal(t, models.StatusRemoved, got["d"].Status)
	assert.Equal(t, "1.0.0", got["d"].Dependency.Version)
	assert.Equal(t, models.StatusNew, got["e"].Status)

	// B keeps its stale cached text for review
	cachedB, err := f.store.Load("npm", "b")
	require.NoError(t, err)
	assert.Equal(t, "MIT License", cachedB.Licenses[0].Text)

	// C is recaptured at the new version
	cachedC, err := f.store.Load("npm", "c")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", cachedC.GetString("version"))
	assert.Equal(t, "BSD-3-Clause", cachedC.Licenses[0].Text)

	// D is gone
	_, err = os.Stat(f.store.Path("npm", "d"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// E is captured with source metadata
	cachedE, err := f.store.Load("npm", "e")
	require.NoError(t, err)
	assert.Equal(t, "e", cachedE.GetString("name"))
	assert.Equal(t, "0.1.0", cachedE.GetString("version"))
	assert.Equal(t, "npm", cachedE.GetString("type"))
	assert.Equal(t, "https://example.com/e", cachedE.GetString("homepage"))
	assert.Equal(t, []record.License{{Sources: []string{"LICENSE"}, Text: "MIT License"}}, cachedE.Licenses)

	// A second pass over the updated cache finds nothing new
	results, err = r.ReconcileSource(context.Background(), "npm", []models.Dependency{a, b, c, e})
	require.NoError(t, err)
	got = byName(results)
	assert.Equal(t, models.StatusUnchanged, got["a"].Status)
	assert.Equal(t, models.StatusStaleContent, got["b"].Status)
	assert.Equal(t, models.StatusUnchanged, got["c"].Status)
	assert.Equal(t, models.StatusUnchanged, got["e"].Status)
	assert.NotContains(t, got, "d")
}

func TestReconcileDowngrade(t *testing.T) {
	f := newFixture(t)
	dep := f.install(t, "left-pad", "1.2.0", "WTFPL")
	f.cache(t, "left-pad", "1.10.0", record.License{Text: "WTFPL"})

	result := New(f.store, Options{}, nil).Reconcile(context.Background(), dep)
	assert.Equal(t, models.StatusVersionChanged, result.Status)
	assert.Equal(t, "downgraded 1.10.0 -> 1.2.0", result.Detail)
}

func TestReconcileUnversionedSkipsVersionCheck(t *testing.T) {
	f := newFixture(t)
	dep := f.install(t, "vendored", "", "MIT License")
	f.cache(t, "vendored", "9.9.9", record.License{Sources: []string{"LICENSE"}, Text: "MIT License"})

	result := New(f.store, Options{}, nil).Reconcile(context.Background(), dep)
	assert.Equal(t, models.StatusUnchanged, result.Status)
}

func TestReconcileUnreadableRecordFallsBackToNew(t *testing.T) {
	f := newFixture(t)
	dep := f.install(t, "broken", "1.0.0", "MIT License")

	path := f.store.Path("npm", "broken")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("name: broken\nlicenses: [\n"), 0644))

	core, logs := observer.New(zap.WarnLevel)
	result := New(f.store, Options{}, zap.New(core)).Reconcile(context.Background(), dep)

	assert.Equal(t, models.StatusNew, result.Status)
	var serr *record.SerializationError
	assert.True(t, errors.As(result.Err, &serr))
	assert.Equal(t, 1, logs.FilterMessage("discarding unreadable cached record").Len())

	cached, err := f.store.Load("npm", "broken")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", cached.GetString("version"))
}

func TestDryRunDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	fresh := f.install(t, "fresh", "1.0.0", "MIT License")
	bumped := f.install(t, "bumped", "2.0.0", "MIT License")
	f.cache(t, "bumped", "1.0.0", record.License{Text: "MIT License"})
	f.cache(t, "gone", "1.0.0", record.License{Text: "MIT License"})

	r := New(f.store, Options{DryRun: true}, nil)
	results, err := r.ReconcileSource(context.Background(), "npm", []models.Dependency{fresh, bumped})
	require.NoError(t, err)

	got := byName(results)
	assert.Equal(t, models.StatusNew, got["fresh"].Status)
	assert.Equal(t, models.StatusVersionChanged, got["bumped"].Status)
	assert.Equal(t, models.StatusRemoved, got["gone"].Status)

	names, err := f.store.Names("npm")
	require.NoError(t, err)
	assert.Equal(t, []string{"bumped", "gone"}, names)

	cached, err := f.store.Load("npm", "bumped")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", cached.GetString("version"))
}

type stubEnricher struct {
	metadata map[string]string
	err      error
}

func (s stubEnricher) Enrich(context.Context, models.Dependency) (map[string]string, error) {
	return s.metadata, s.err
}

func TestEnricherAddsRegistryMetadata(t *testing.T) {
	f := newFixture(t)
	dep := f.install(t, "react", "18.2.0", "MIT License")

	enricher := stubEnricher{metadata: map[string]string{
		"purl":     "pkg:npm/react@18.2.0",
		"summary":  "React is a JavaScript library",
		"homepage": "https://registry.example.com/react",
	}}
	result := New(f.store, Options{Enricher: enricher}, nil).Reconcile(context.Background(), dep)
	require.NoError(t, result.Err)

	cached, err := f.store.Load("npm", "react")
	require.NoError(t, err)
	assert.Equal(t, "pkg:npm/react@18.2.0", cached.GetString("purl"))
	assert.Equal(t, "React is a JavaScript library", cached.GetString("summary"))
	assert.Equal(t, "https://example.com/react", cached.GetString("homepage"), "source metadata wins")
}

func TestEnricherFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	dep := f.install(t, "react", "18.2.0", "MIT License")

	core, logs := observer.New(zap.WarnLevel)
	r := New(f.store, Options{Enricher: stubEnricher{err: errors.New("registry unavailable")}}, zap.New(core))
	result := r.Reconcile(context.Background(), dep)

	assert.Equal(t, models.StatusNew, result.Status)
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, logs.FilterMessage("registry lookup failed").Len())
}

func TestReconcileVersionChangeKeepsRecordWhenCaptureFails(t *testing.T) {
	f := newFixture(t)
	f.cache(t, "broken", "1.0.0", record.License{Sources: []string{"LICENSE"}, Text: "MIT License"})

	// A regular file where the package directory should be can't be captured
	path := filepath.Join(f.root, "deps", "broken")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("not a directory"), 0644))
	dep, err := models.NewDependency(path, "broken", "2.0.0", "npm", nil)
	require.NoError(t, err)

	result := New(f.store, Options{}, nil).Reconcile(context.Background(), dep)
	assert.Equal(t, models.StatusVersionChanged, result.Status)
	require.Error(t, result.Err)

	cached, err := f.store.Load("npm", "broken")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "1.0.0", cached.GetString("version"))
	assert.Equal(t, "MIT License", cached.Licenses[0].Text)
}

func TestReconcileReportsFailedWrite(t *testing.T) {
	f := newFixture(t)
	dep := f.install(t, "react", "18.2.0", "MIT License")

	// The source directory of the cache is a regular file
	require.NoError(t, os.MkdirAll(f.store.Dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.store.Dir, "npm"), nil, 0644))

	core, logs := observer.New(zap.ErrorLevel)
	result := New(f.store, Options{}, zap.New(core)).Reconcile(context.Background(), dep)

	assert.Equal(t, models.StatusNew, result.Status)
	require.Error(t, result.Err)
	assert.NotZero(t, logs.FilterMessage("unable to write cached record").Len())
	assert.True(t, models.Report{Results: []models.Result{result}}.HasErrors())
}
