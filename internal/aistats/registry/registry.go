// Package registry holds the catalog of content sources grouped by mode.
package registry

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/RobinCoderZhao/aistats/internal/aistats/sources"
)

//go:embed default_sources.yaml
var defaultCatalogYAML []byte

var (
	ErrUnknownMode     = errors.New("unknown mode")
	ErrIndexOutOfRange = errors.New("source index out of range")
	ErrInvalidSource   = sources.ErrInvalidSource
)

// Catalog is the serialisable form of the registry.
type Catalog struct {
	Version string        `yaml:"version" json:"version"`
	Modes   []ModeCatalog `yaml:"modes" json:"modes"`
}

// ModeCatalog is one mode and its ordered sources.
type ModeCatalog struct {
	Mode    string           `yaml:"mode" json:"mode"`
	Label   string           `yaml:"label" json:"label"`
	Sources []sources.Source `yaml:"sources" json:"sources"`
}

// ModeSources is the read view returned by All.
type ModeSources struct {
	Label   string           `json:"label"`
	Sources []sources.Source `json:"sources"`
}

// Persister stores catalog snapshots. LoadCatalog returns nil, nil when no
// snapshot exists yet.
type Persister interface {
	LoadCatalog(ctx context.Context) (*Catalog, error)
	SaveCatalog(ctx context.Context, c *Catalog) error
}

// Invalidator drops cached fetch results.
type Invalidator interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Query narrows Find. Empty fields match everything.
type Query struct {
	Mode string
	Type sources.Type
	Tag  string
}

// Option configures a Registry.
type Option func(*Registry)

// WithPersister stores every mutation through p.
func WithPersister(p Persister) Option {
	return func(r *Registry) { r.persister = p }
}

// WithInvalidator makes Refresh drop cache entries under prefix.
func WithInvalidator(inv Invalidator, prefix string) Option {
	return func(r *Registry) {
		r.invalidator = inv
		r.cachePrefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithDefaults replaces the embedded catalog, mainly for tests.
func WithDefaults(c *Catalog) Option {
	return func(r *Registry) { r.defaults = c }
}

// Registry is the in-memory source catalog.
type Registry struct {
	mu          sync.RWMutex
	catalog     *Catalog
	defaults    *Catalog
	persister   Persister
	invalidator Invalidator
	cachePrefix string
	logger      *slog.Logger
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// ParseCatalog decodes a YAML catalog and validates every entry.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

// New builds a registry. A stored snapshot is used when its version
// matches the built-in catalog; otherwise the defaults are loaded and
// persisted.
func New(ctx context.Context, opts ...Option) (*Registry, error) {
	r := &Registry{logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	if r.defaults == nil {
		d, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		r.defaults = d
	} else if err := r.defaults.normalize(); err != nil {
		return nil, err
	}

	if r.persister != nil {
		stored, err := r.persister.LoadCatalog(ctx)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		if stored != nil && stored.Version == r.defaults.Version {
			if err := stored.normalize(); err == nil {
				r.catalog = stored
				r.logger.Info("source catalog loaded from store", "version", stored.Version, "sources", stored.count())
				return r, nil
			}
			r.logger.Warn("stored catalog is invalid, using defaults", "version", stored.Version)
		} else if stored != nil {
			r.logger.Info("stored catalog is outdated, using defaults", "stored", stored.Version, "built_in", r.defaults.Version)
		}
	}

	r.catalog = r.defaults.clone()
	if r.persister != nil {
		if err := r.persister.SaveCatalog(ctx, r.catalog); err != nil {
			return nil, fmt.Errorf("save catalog: %w", err)
		}
	}
	return r, nil
}

// Version returns the catalog version.
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog.Version
}

// SourcesForMode returns a copy of the sources for mode, or nil for an
// unknown mode.
func (r *Registry) SourcesForMode(mode string) []sources.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.catalog.mode(mode)
	if m == nil {
		return nil
	}
	return cloneSources(m.Sources)
}

// HasMode reports whether mode exists.
func (r *Registry) HasMode(mode string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog.mode(mode) != nil
}

// Modes lists mode identifiers in catalog order.
func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.catalog.Modes))
	for _, m := range r.catalog.Modes {
		out = append(out, m.Mode)
	}
	return out
}

// All returns every mode with its label and sources.
func (r *Registry) All() map[string]ModeSources {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ModeSources, len(r.catalog.Modes))
	for _, m := range r.catalog.Modes {
		out[m.Mode] = ModeSources{Label: m.Label, Sources: cloneSources(m.Sources)}
	}
	return out
}

// Snapshot returns a deep copy of the catalog.
func (r *Registry) Snapshot() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog.clone()
}

// Find returns sources matching every non-empty field of q.
func (r *Registry) Find(q Query) []sources.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []sources.Source
	for _, m := range r.catalog.Modes {
		if q.Mode != "" && m.Mode != q.Mode {
			continue
		}
		for _, s := range m.Sources {
			if q.Type != "" && s.Type != q.Type {
				continue
			}
			if q.Tag != "" && !s.HasTag(q.Tag) {
				continue
			}
			out = append(out, cloneSource(s))
		}
	}
	return out
}

// Refresh rebuilds the catalog from the built-in defaults, drops every
// cached fetch result and persists the new catalog. The cache is cleared
// first: if that fails the old catalog stays in place, so a catalog is never
// committed next to cache entries it did not produce.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	if r.invalidator != nil {
		n, err := r.invalidator.DeletePrefix(ctx, r.cachePrefix)
		if err != nil {
			return fmt.Errorf("invalidate source cache: %w", err)
		}
		dropped = n
	}

	next := r.defaults.clone()
	changes := Diff(r.catalog, next)
	if r.persister != nil {
		if err := r.persister.SaveCatalog(ctx, next); err != nil {
			return fmt.Errorf("save catalog: %w", err)
		}
	}
	r.catalog = next

	r.logger.Info("source catalog refreshed",
		"version", next.Version,
		"changes", changes.Summary(),
		"cache_entries_dropped", dropped,
	)
	return nil
}

// AddSource appends src to mode and persists the catalog.
func (r *Registry) AddSource(ctx context.Context, mode string, src sources.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(ctx, mode, []sources.Source{src})
}

func (r *Registry) addLocked(ctx context.Context, mode string, srcs []sources.Source) error {
	if r.catalog.mode(mode) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	resolved := make([]sources.Source, 0, len(srcs))
	for _, src := range srcs {
		if err := src.Validate(); err != nil {
			return err
		}
		src = src.Resolve()
		src.Mode = mode
		resolved = append(resolved, src)
	}

	next := r.catalog.clone()
	m := next.mode(mode)
	m.Sources = append(m.Sources, resolved...)
	return r.commitLocked(ctx, next)
}

// RemoveSource deletes the source at index within mode and persists the
// catalog.
func (r *Registry) RemoveSource(ctx context.Context, mode string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.catalog.mode(mode)
	if cur == nil {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if index < 0 || index >= len(cur.Sources) {
		return fmt.Errorf("%w: %d (mode %q has %d sources)", ErrIndexOutOfRange, index, mode, len(cur.Sources))
	}

	next := r.catalog.clone()
	m := next.mode(mode)
	m.Sources = append(m.Sources[:index], m.Sources[index+1:]...)
	return r.commitLocked(ctx, next)
}

func (r *Registry) commitLocked(ctx context.Context, next *Catalog) error {
	if r.persister != nil {
		if err := r.persister.SaveCatalog(ctx, next); err != nil {
			return fmt.Errorf("save catalog: %w", err)
		}
	}
	r.catalog = next
	return nil
}

func (c *Catalog) mode(mode string) *ModeCatalog {
	for i := range c.Modes {
		if c.Modes[i].Mode == mode {
			return &c.Modes[i]
		}
	}
	return nil
}

func (c *Catalog) count() int {
	n := 0
	for _, m := range c.Modes {
		n += len(m.Sources)
	}
	return n
}

// normalize resolves kinds, stamps modes and rejects invalid entries.
func (c *Catalog) normalize() error {
	seen := make(map[string]bool, len(c.Modes))
	for i := range c.Modes {
		m := &c.Modes[i]
		m.Mode = strings.TrimSpace(m.Mode)
		if m.Mode == "" {
			return fmt.Errorf("catalog mode %d has no identifier", i)
		}
		if seen[m.Mode] {
			return fmt.Errorf("catalog mode %q is defined twice", m.Mode)
		}
		seen[m.Mode] = true
		if m.Label == "" {
			m.Label = m.Mode
		}
		for j := range m.Sources {
			if err := m.Sources[j].Validate(); err != nil {
				return fmt.Errorf("mode %q source %d: %w", m.Mode, j, err)
			}
			m.Sources[j] = m.Sources[j].Resolve()
			m.Sources[j].Mode = m.Mode
		}
	}
	return nil
}

func (c *Catalog) clone() *Catalog {
	out := &Catalog{Version: c.Version, Modes: make([]ModeCatalog, len(c.Modes))}
	for i, m := range c.Modes {
		out.Modes[i] = ModeCatalog{Mode: m.Mode, Label: m.Label, Sources: cloneSources(m.Sources)}
	}
	return out
}

func cloneSources(in []sources.Source) []sources.Source {
	out := make([]sources.Source, len(in))
	for i, s := range in {
		out[i] = cloneSource(s)
	}
	return out
}

func cloneSource(s sources.Source) sources.Source {
	if s.Tags != nil {
		s.Tags = append([]string(nil), s.Tags...)
	}
	if s.Params != nil {
		p := make(map[string]string, len(s.Params))
		for k, v := range s.Params {
			p[k] = v
		}
		s.Params = p
	}
	return s
}

// SortedModes returns the keys of All in a stable order.
func SortedModes(all map[string]ModeSources) []string {
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
