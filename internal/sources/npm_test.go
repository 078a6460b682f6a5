package sources

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const packageLockV3 = `{
  "name": "monorepo",
  "lockfileVersion": 3,
  "packages": {
    "": {"name": "monorepo", "workspaces": ["packages/*"]},
    "packages/app": {"name": "app", "version": "1.0.0", "dependencies": {"react": "^18.0.0", "lib": "*"}},
    "packages/lib": {"name": "lib", "version": "1.0.0", "dependencies": {"lodash": "^4.0.0"}},
    "packages/tool": {"name": "tool", "version": "1.0.0", "dependencies": {"chalk": "^5.0.0"}},
    "node_modules/app": {"resolved": "packages/app", "link": true},
    "node_modules/lib": {"resolved": "packages/lib", "link": true},
    "node_modules/tool": {"resolved": "packages/tool", "link": true},
    "node_modules/react": {"version": "18.2.0", "dependencies": {"loose-envify": "^1.1.0"}},
    "node_modules/loose-envify": {"version": "1.4.0", "dependencies": {"js-tokens": "^3.0.0"}},
    "node_modules/loose-envify/node_modules/js-tokens": {"version": "3.0.2"},
    "node_modules/js-tokens": {"version": "4.0.0"},
    "node_modules/lodash": {"version": "4.17.21"},
    "node_modules/@scope/util": {"version": "2.0.0"},
    "node_modules/@scope/util/node_modules/lodash": {"version": "4.17.21"},
    "node_modules/chalk": {"version": "5.3.0"},
    "node_modules/jest": {"version": "29.7.0", "dev": true}
  }
}`

func npmProject(t *testing.T, lock string) *NPM {
	t.Helper()
	config := testConfig(t)
	writeFiles(t, config.Root, map[string]string{
		"package.json":                    `{"name": "monorepo"}`,
		"package-lock.json":               lock,
		"node_modules/react/package.json": `{"homepage": "https://react.dev", "description": "React"}`,
	})
	return NewNPM(config, newFakeRunner(), nil)
}

func TestNPMEnumeratesInstalledPackages(t *testing.T) {
	n := npmProject(t, packageLockV3)
	require.True(t, n.Enabled())

	deps, err := n.EnumerateDependencies(context.Background())
	require.NoError(t, err)

	// lodash is installed twice at the same version and js-tokens at two versions
	assert.ElementsMatch(t, []string{
		"@scope/util", "chalk", "js-tokens@4.0.0", "js-tokens@3.0.2", "lodash", "loose-envify", "react",
	}, names(deps))

	for _, d := range deps {
		switch d.Name {
		case "lodash":
			assert.Equal(t, filepath.Join(n.config.Root, "node_modules", "lodash"), d.Path)
		case "react":
			assert.Equal(t, "https://react.dev", d.Metadata["homepage"])
			assert.Equal(t, "React", d.Metadata["summary"])
		}
	}
}

func TestNPMIncludeDev(t *testing.T) {
	n := npmProject(t, packageLockV3)
	n.config.NPM.IncludeDev = true

	deps, err := n.EnumerateDependencies(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names(deps), "jest")
}

func TestNPMWorkspacesFilter(t *testing.T) {
	n := npmProject(t, packageLockV3)
	n.config.NPM.Workspaces = []string{"app"}

	deps, err := n.EnumerateDependencies(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"react", "loose-envify", "js-tokens", "lodash"}, names(deps))

	for _, d := range deps {
		if d.Name == "js-tokens" {
			assert.Equal(t, "3.0.2", d.Version, "resolved from the nearest node_modules")
		}
	}
}

func TestNPMWorkspacesWithoutMatches(t *testing.T) {
	n := npmProject(t, packageLockV3)
	n.config.NPM.Workspaces = []string{"missing"}

	_, err := n.EnumerateDependencies(context.Background())
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.True(t, errors.Is(err, ErrNoTargets))
}

func TestNPMLockfileV1(t *testing.T) {
	n := npmProject(t, `{
  "lockfileVersion": 1,
  "dependencies": {
    "react": {"version": "16.14.0", "dependencies": {"object-assign": {"version": "4.1.1"}}},
    "mocha": {"version": "10.0.0", "dev": true}
  }
}`)

	deps, err := n.EnumerateDependencies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"react", "object-assign"}, names(deps))
	assert.Equal(t, filepath.Join(n.config.Root, "node_modules", "react", "node_modules", "object-assign"), deps[1].Path)

	n.config.NPM.Workspaces = []string{"app"}
	_, err = n.EnumerateDependencies(context.Background())
	assert.Error(t, err)
}

func TestNPMInvalidLockfile(t *testing.T) {
	n := npmProject(t, "{")

	_, err := n.EnumerateDependencies(context.Background())
	var cerr *ConfigurationError
	assert.True(t, errors.As(err, &cerr))
}

func TestResolveModule(t *testing.T) {
	packages := map[string]lockPackage{
		"node_modules/a":                   {Version: "1.0.0"},
		"node_modules/b":                   {Version: "1.0.0"},
		"node_modules/@s/c":                {Version: "1.0.0"},
		"node_modules/@s/c/node_modules/b": {Version: "2.0.0"},
		"node_modules/ws":                  {Link: true, Resolved: "packages/ws"},
	}

	cases := []struct {
		from, name, want string
		ok               bool
	}{
		{"node_modules/a", "b", "node_modules/b", true},
		{"node_modules/@s/c", "b", "node_modules/@s/c/node_modules/b", true},
		{"node_modules/@s/c/node_modules/b", "a", "node_modules/a", true},
		{"packages/app", "ws", "packages/ws", true},
		{"node_modules/a", "missing", "", false},
	}
	for _, tc := range cases {
		got, ok := resolveModule(packages, tc.from, tc.name)
		assert.Equal(t, tc.ok, ok, "%s -> %s", tc.from, tc.name)
		assert.Equal(t, tc.want, got, "%s -> %s", tc.from, tc.name)
	}
}
