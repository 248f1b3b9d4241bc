package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrSchemaNotFound is returned when no descriptor exists for a tenant slug.
var ErrSchemaNotFound = errors.New("schema not found")

var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Loader resolves tenant descriptors from registered values or from
// {dir}/{slug}.json files. Loaded files are kept in memory.
type Loader struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	loaded map[string]*Descriptor
}

// NewLoader creates a loader reading JSON files from dir.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		dir:    dir,
		logger: logger,
		loaded: make(map[string]*Descriptor),
	}
}

// Register makes a descriptor available under slug without a file.
func (l *Loader) Register(slug string, d *Descriptor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d.Slug = slug
	l.loaded[slug] = d
}

// Load returns the descriptor of slug.
func (l *Loader) Load(slug string) (*Descriptor, error) {
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: invalid slug %q", ErrSchemaNotFound, slug)
	}

	l.mu.RLock()
	d, ok := l.loaded[slug]
	l.mu.RUnlock()
	if ok {
		return d, nil
	}

	d, err := l.readFile(slug)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.loaded[slug] = d
	l.mu.Unlock()

	l.logger.Info("schema loaded",
		zap.String("slug", slug),
		zap.Int("tables", len(d.tables)))
	return d, nil
}

// Invalidate drops the in-memory copy of slug so the next Load rereads it.
func (l *Loader) Invalidate(slug string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.loaded, slug)
}

func (l *Loader) path(slug string) string {
	return filepath.Join(l.dir, slug+".json")
}

func (l *Loader) readFile(slug string) (*Descriptor, error) {
	if l.dir == "" {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, slug)
	}
	data, err := os.ReadFile(l.path(slug))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, slug)
		}
		return nil, fmt.Errorf("read schema %s: %w", slug, err)
	}
	return Decode(slug, data)
}

// Decode parses the JSON schema format.
func Decode(slug string, data []byte) (*Descriptor, error) {
	var tables map[string]*Table
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", slug, err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("decode schema %s: no tables", slug)
	}
	for name, t := range tables {
		if t == nil || len(t.Columns) == 0 {
			return nil, fmt.Errorf("decode schema %s: table %s has no columns", slug, name)
		}
	}
	return NewDescriptor(slug, tables), nil
}

// Encode renders a descriptor in the JSON schema format.
func Encode(d *Descriptor) ([]byte, error) {
	return json.MarshalIndent(d.tables, "", "  ")
}

// Save writes d to {dir}/{slug}.json and refreshes the in-memory copy.
func (l *Loader) Save(d *Descriptor) error {
	if !slugPattern.MatchString(d.Slug) {
		return fmt.Errorf("invalid slug %q", d.Slug)
	}
	data, err := Encode(d)
	if err != nil {
		return fmt.Errorf("encode schema %s: %w", d.Slug, err)
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create schema dir: %w", err)
	}
	if err := os.WriteFile(l.path(d.Slug), data, 0o644); err != nil {
		return fmt.Errorf("write schema %s: %w", d.Slug, err)
	}
	l.Register(d.Slug, d)
	return nil
}

// List returns every slug available from files or registrations, sorted.
func (l *Loader) List() ([]string, error) {
	seen := make(map[string]struct{})

	l.mu.RLock()
	for slug := range l.loaded {
		seen[slug] = struct{}{}
	}
	l.mu.RUnlock()

	if l.dir != "" {
		entries, err := os.ReadDir(l.dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("list schemas: %w", err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			seen[strings.TrimSuffix(name, ".json")] = struct{}{}
		}
	}

	slugs := make([]string, 0, len(seen))
	for slug := range seen {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}
