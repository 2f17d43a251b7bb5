// loader.go: platform-neutral dynamic module lifecycle
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// errBuildAlreadyMapped is returned when a build that was mapped before is
	// opened again without being rebuilt.
	errBuildAlreadyMapped = stderrors.New("this build was already mapped into the process and cannot be mapped again; rebuild the artifact")

	// errSourceReused is returned when a path is opened a second time without
	// a shadow copy. plugin.Open caches by path and would hand back the old code.
	errSourceReused = stderrors.New("a plugin was already opened from this path; enable shadow_copy so every version gets its own file")
)

// Module is an opened artifact owned by exactly one plugin instance.
type Module interface {
	// Path is the artifact path the module was opened from.
	Path() string

	// Source is the file actually mapped, which differs from Path when the
	// loader works on a shadow copy.
	Source() string
}

// Loader opens artifacts, resolves their entry points and releases them.
//
// Error contract:
//   - Open fails with an ArtifactMissing error when path does not exist and
//     with a FormatInvalid error when the file is not a loadable module.
//   - Resolve fails with a SymbolMissing error when the symbol is absent.
//   - Close must only be called once no call into the module is in flight.
type Loader interface {
	Open(path string) (Module, error)
	Resolve(module Module, symbol string) (any, error)
	Close(module Module) error
}

// LoaderOptions configures the GoPluginLoader.
type LoaderOptions struct {
	// ShadowCopy copies the artifact before opening it so the build
	// toolchain can overwrite the original while the copy is mapped.
	ShadowCopy bool `json:"shadow_copy" yaml:"shadow_copy"`

	// ShadowDir is where shadow copies are written. Empty means the
	// artifact's own directory.
	ShadowDir string `json:"shadow_dir" yaml:"shadow_dir"`
}

// GoPluginLoader loads artifacts built with -buildmode=plugin.
//
// The Go runtime never unmaps a plugin once opened, not even when opening
// fails. Close therefore releases the loader's handle and removes the shadow
// copy; the watcher guarantees the retired module's code is never called
// again afterwards.
//
// Because every mapping is permanent, the loader remembers the last version
// (modification time and size) it tried for each path. Opening that same
// version again returns the earlier failure, or errBuildAlreadyMapped, without
// copying or mapping anything.
type GoPluginLoader struct {
	options  LoaderOptions
	logger   Logger
	openFunc func(source string) (symbolTable, error)

	generation atomic.Uint64

	mu      sync.Mutex
	open    map[*goModule]struct{}
	history map[string]openRecord
	mapped  map[string]struct{}
}

// openRecord is the outcome of mapping one version of an artifact.
type openRecord struct {
	modTime time.Time
	size    int64
	err     error
}

func (r openRecord) matches(info os.FileInfo) bool {
	return r.modTime.Equal(info.ModTime()) && r.size == info.Size()
}

// goModule is the handle returned by GoPluginLoader.
type goModule struct {
	path   string
	source string
	shadow bool
	handle symbolTable
	closed atomic.Bool
}

func (m *goModule) Path() string   { return m.path }
func (m *goModule) Source() string { return m.source }

// symbolTable is the subset of *plugin.Plugin the loader relies on.
type symbolTable interface {
	Lookup(symbol string) (any, error)
}

// NewGoPluginLoader creates a loader for Go plugin artifacts.
func NewGoPluginLoader(options LoaderOptions, logger any) *GoPluginLoader {
	return &GoPluginLoader{
		options:  options,
		logger:   NewLogger(logger),
		openFunc: openNative,
		open:     make(map[*goModule]struct{}),
		history:  make(map[string]openRecord),
		mapped:   make(map[string]struct{}),
	}
}

// Open maps the artifact at path into the process.
func (l *GoPluginLoader) Open(path string) (Module, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewArtifactMissingError(path, err)
		}
		return nil, NewFormatInvalidError(path, err)
	}
	if info.IsDir() {
		return nil, NewFormatInvalidError(path, fmt.Errorf("%s is a directory", path))
	}

	if err := l.checkHistory(path, info); err != nil {
		return nil, err
	}

	source := path
	shadow := false
	if l.options.ShadowCopy {
		source = shadowPath(path, l.options.ShadowDir, l.generation.Add(1))
		if err := copyArtifact(path, source); err != nil {
			if os.IsNotExist(err) {
				return nil, NewArtifactMissingError(path, err)
			}
			return nil, NewShadowCopyError(path, source, err)
		}
		shadow = true
	}

	handle, err := l.openFunc(source)
	if err != nil {
		if shadow {
			l.removeShadow(source)
		}
		openErr := NewFormatInvalidError(path, err)
		l.mu.Lock()
		l.history[path] = openRecord{modTime: info.ModTime(), size: info.Size(), err: openErr}
		l.mu.Unlock()
		return nil, openErr
	}

	module := &goModule{path: path, source: source, shadow: shadow, handle: handle}
	l.mu.Lock()
	l.open[module] = struct{}{}
	l.history[path] = openRecord{modTime: info.ModTime(), size: info.Size()}
	l.mapped[source] = struct{}{}
	l.mu.Unlock()

	l.logger.Debug("Module opened", "path", path, "source", source)
	return module, nil
}

// checkHistory rejects versions of path that must not be mapped again.
func (l *GoPluginLoader) checkHistory(path string, info os.FileInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if record, ok := l.history[path]; ok && record.matches(info) {
		if record.err != nil {
			return record.err
		}
		return NewFormatInvalidError(path, errBuildAlreadyMapped)
	}
	if !l.options.ShadowCopy {
		if _, ok := l.mapped[path]; ok {
			return NewFormatInvalidError(path, errSourceReused)
		}
	}
	return nil
}

// Resolve looks up symbol in module.
func (l *GoPluginLoader) Resolve(module Module, symbol string) (any, error) {
	m, err := l.own(module)
	if err != nil {
		return nil, err
	}
	if m.closed.Load() {
		return nil, NewFormatInvalidError(m.path, fmt.Errorf("module already closed"))
	}
	sym, err := m.handle.Lookup(symbol)
	if err != nil {
		return nil, NewSymbolMissingError(m.path, symbol, err)
	}
	return sym, nil
}

// Close releases module. Closing twice is a no-op.
func (l *GoPluginLoader) Close(module Module) error {
	m, err := l.own(module)
	if err != nil {
		return err
	}
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	l.mu.Lock()
	delete(l.open, m)
	l.mu.Unlock()

	m.handle = nil
	if m.shadow {
		l.removeShadow(m.source)
	}
	l.logger.Debug("Module closed", "path", m.path, "source", m.source)
	return nil
}

// OpenModules returns how many modules are currently open.
func (l *GoPluginLoader) OpenModules() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.open)
}

func (l *GoPluginLoader) own(module Module) (*goModule, error) {
	m, ok := module.(*goModule)
	if !ok || m == nil {
		return nil, NewFormatInvalidError(modulePath(module), fmt.Errorf("module %T was not opened by this loader", module))
	}
	return m, nil
}

func (l *GoPluginLoader) removeShadow(source string) {
	if err := os.Remove(source); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("Failed to remove shadow copy", "source", source, "error", err)
	}
}

func modulePath(module Module) string {
	if module == nil {
		return ""
	}
	return module.Path()
}

// shadowPath builds "<dir>/<name>_updated<gen><ext>" for path.
func shadowPath(path, dir string, generation uint64) string {
	if dir == "" {
		dir = filepath.Dir(path)
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_updated%d%s", name, generation, ext))
}

// copyArtifact copies src to dst, replacing dst.
func copyArtifact(src, dst string) (err error) {
	in, err := os.Open(src) // #nosec G304 -- path comes from host configuration
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o700) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
