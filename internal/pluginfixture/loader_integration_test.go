// loader_integration_test.go: reloads against real -buildmode=plugin artifacts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginfixture_test

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	heimdall "github.com/agilira/go-heimdall"
	"github.com/agilira/go-heimdall/internal/pluginfixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterEntry = func(*pluginfixture.Counter) *heimdall.Table[pluginfixture.Counter]

// requirePluginToolchain skips unless this binary can build and open plugins.
func requirePluginToolchain(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping plugin build test in short mode")
	}
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skipf("plugins are not supported on %s", runtime.GOOS)
	}
	if !cgoEnabled {
		t.Skip("plugins require cgo")
	}
	if testing.CoverMode() != "" {
		t.Skip("coverage instrumentation makes host and plugin package builds differ")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not found in PATH")
	}
}

// buildCounter compiles the counter plugin to output. Every pluginPath may be
// opened only once per process.
func buildCounter(t *testing.T, output, pluginPath string, v2 bool, modTime time.Time) {
	t.Helper()
	args := []string{"build", "-buildmode=plugin", "-ldflags=-pluginpath=" + pluginPath, "-o", output}
	if raceEnabled {
		args = append(args, "-race")
	}
	if v2 {
		args = append(args, "-tags=heimdall_fixture_v2")
	}
	args = append(args, "./counterplugin")

	cmd := exec.Command("go", args...) // #nosec G204 -- fixed arguments
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("plugin build failed: %v\n%s", err, out)
	}
	require.NoError(t, os.Chtimes(output, modTime, modTime))
}

// uniquePluginPath returns a pluginpath no other test in this process uses.
func uniquePluginPath(t *testing.T, release string) string {
	return fmt.Sprintf("heimdall-fixture/%s/%s/%d", strings.ReplaceAll(t.Name(), "/", "_"), release, time.Now().UnixNano())
}

// mappingsOf counts the memory mappings of files below dir, or -1 when the
// process map is not readable.
func mappingsOf(dir string) int {
	data, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		return -1
	}
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, dir) {
			n++
		}
	}
	return n
}

func TestGoPluginLoader_RealPlugin(t *testing.T) {
	requirePluginToolchain(t)

	path := filepath.Join(t.TempDir(), "counter.so")
	buildCounter(t, path, uniquePluginPath(t, "v1"), false, time.Unix(1_700_000_000, 0))

	loader := heimdall.NewGoPluginLoader(heimdall.LoaderOptions{ShadowCopy: true}, heimdall.NewTestLogger())
	module, err := loader.Open(path)
	require.NoError(t, err)
	assert.NotEqual(t, path, module.Source())
	assert.FileExists(t, module.Source())

	sym, err := loader.Resolve(module, heimdall.DefaultEntrySymbol)
	require.NoError(t, err)
	entry, ok := sym.(counterEntry)
	require.True(t, ok, "unexpected entry type %T", sym)

	state := &pluginfixture.Counter{}
	table := entry(state)
	assert.Equal(t, "counter-v1", table.Name)
	require.NoError(t, table.Tick(state))
	assert.Equal(t, 1, state.Value)

	_, err = loader.Resolve(module, "Missing")
	assert.True(t, heimdall.IsSymbolMissing(err))

	require.NoError(t, loader.Close(module))
	assert.NoFileExists(t, module.Source())

	// the same build cannot be mapped twice
	_, err = loader.Open(path)
	require.Error(t, err)
	assert.True(t, heimdall.IsFormatInvalid(err))
}

func TestWatcher_RealPluginReload(t *testing.T) {
	requirePluginToolchain(t)

	path := filepath.Join(t.TempDir(), "counter.so")
	base := time.Unix(1_700_000_000, 0)
	buildCounter(t, path, uniquePluginPath(t, "v1"), false, base)

	config := heimdall.DefaultConfig()
	config.ArtifactPath = path
	state := &pluginfixture.Counter{}
	w, err := heimdall.NewWatcher(state, config, heimdall.WithLogger(heimdall.NewTestLogger()))
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.Equal(t, heimdall.WatchReloaded, w.Watch().Status)
	assert.Equal(t, "counter-v1", w.Current().Name())
	require.NoError(t, w.Tick())
	assert.Equal(t, 1, state.Value)
	assert.Equal(t, heimdall.WatchUnchanged, w.Watch().Status)

	buildCounter(t, path, uniquePluginPath(t, "v2"), true, base.Add(time.Minute))
	res := w.Watch()
	require.Equal(t, heimdall.WatchReloaded, res.Status, "reload failed: %v", res.Err)
	assert.Equal(t, uint64(2), res.Generation)
	assert.Equal(t, "counter-v2", w.Current().Name())

	require.NoError(t, w.Tick())
	assert.Equal(t, 11, state.Value, "the new build's behaviour is live")
	assert.Equal(t, []string{"v1", "v2"}, state.Installs)
}

func TestWatcher_RealPluginRebuildWithSamePluginPath(t *testing.T) {
	requirePluginToolchain(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "counter.so")
	base := time.Unix(1_700_000_000, 0)
	pluginPath := uniquePluginPath(t, "shared")
	buildCounter(t, path, pluginPath, false, base)

	config := heimdall.DefaultConfig()
	config.ArtifactPath = path
	state := &pluginfixture.Counter{}
	w, err := heimdall.NewWatcher(state, config, heimdall.WithLogger(heimdall.NewTestLogger()))
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	require.Equal(t, heimdall.WatchReloaded, w.Watch().Status)

	// the runtime rejects a second plugin with the same pluginpath
	buildCounter(t, path, pluginPath, true, base.Add(time.Minute))
	res := w.Watch()
	require.Equal(t, heimdall.WatchFailed, res.Status)
	assert.Equal(t, heimdall.StageOpen, res.Stage)
	assert.True(t, heimdall.IsFormatInvalid(res.Err))

	before := mappingsOf(dir)
	for i := 0; i < 5; i++ {
		res = w.Watch()
		assert.Equal(t, heimdall.WatchFailed, res.Status)
		assert.Equal(t, heimdall.StageOpen, res.Stage)
	}
	if before >= 0 {
		assert.Equal(t, before, mappingsOf(dir), "retries of a rejected build must not map it again")
	}

	assert.Equal(t, "counter-v1", w.Current().Name())
	require.NoError(t, w.Tick())
	assert.Equal(t, 1, state.Value)
}
