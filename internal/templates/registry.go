// Copyright 2025 James Ross
package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"text/template"

	"go.uber.org/zap"
)

// Ext is the file extension template files must carry to be indexed.
const Ext = ".tmpl"

// ErrTemplateNotFound is returned when an id has neither an override nor
// a backing file.
var ErrTemplateNotFound = errors.New("template not found")

// RenderFunc replaces rendering for one id entirely.
type RenderFunc func(ctx any) (string, error)

// ExtendFunc post-processes rendered output; extensions run in
// registration order.
type ExtendFunc func(ctx any, rendered string) (string, error)

// Info describes one registered template for the management surface.
type Info struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Template string `json:"template"`
}

type fileEntry struct {
	fsys   fs.FS
	path   string
	parsed *template.Template
}

// Registry indexes template files from directories and renders them by
// id. Ids are namespace/relative-path-without-extension with forward
// slashes on every platform. The first registration of an id wins.
type Registry struct {
	mu         sync.RWMutex
	files      map[string]*fileEntry
	order      []string
	overrides  map[string]RenderFunc
	extensions map[string][]ExtendFunc
	log        *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		files:      make(map[string]*fileEntry),
		overrides:  make(map[string]RenderFunc),
		extensions: make(map[string][]ExtendFunc),
		log:        log,
	}
}

// RegisterDirectory recursively indexes template files under dir into
// the given namespace.
func (r *Registry) RegisterDirectory(dir, namespace string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("register directory %s: %w", dir, err)
	}
	return r.RegisterFS(os.DirFS(dir), namespace)
}

// RegisterFS indexes every template file in fsys into the namespace.
// Embedded filesystems register the same way directories do.
func (r *Registry) RegisterFS(fsys fs.FS, namespace string) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, Ext) {
			return nil
		}
		id := namespace + "/" + strings.TrimSuffix(path.Clean(p), Ext)
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, exists := r.files[id]; exists {
			r.log.Debug("template id already registered, keeping first",
				zap.String("id", id), zap.String("path", p))
			return nil
		}
		r.files[id] = &fileEntry{fsys: fsys, path: p}
		r.order = append(r.order, id)
		return nil
	})
}

// Override replaces rendering for an id. Overrides win over files.
func (r *Registry) Override(id string, fn RenderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[id] = fn
}

// Extend appends a post-render extension for an id.
func (r *Registry) Extend(id string, fn ExtendFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions[id] = append(r.extensions[id], fn)
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"jsonIndent": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		return string(b), err
	},
}

// Render produces the template output for id with ctx, applying any
// extensions left to right.
func (r *Registry) Render(id string, ctx any) (string, error) {
	r.mu.RLock()
	override := r.overrides[id]
	entry := r.files[id]
	exts := r.extensions[id]
	r.mu.RUnlock()

	var rendered string
	switch {
	case override != nil:
		out, err := override(ctx)
		if err != nil {
			return "", fmt.Errorf("render override %s: %w", id, err)
		}
		rendered = out
	case entry != nil:
		parsed, err := r.parse(id, entry)
		if err != nil {
			return "", err
		}
		var buf strings.Builder
		if err := parsed.Execute(&buf, ctx); err != nil {
			return "", fmt.Errorf("render %s: %w", id, err)
		}
		rendered = buf.String()
	default:
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}

	for _, ext := range exts {
		out, err := ext(ctx, rendered)
		if err != nil {
			return "", fmt.Errorf("extend %s: %w", id, err)
		}
		rendered = out
	}
	return rendered, nil
}

func (r *Registry) parse(id string, entry *fileEntry) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.parsed != nil {
		return entry.parsed, nil
	}
	raw, err := fs.ReadFile(entry.fsys, entry.path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", id, err)
	}
	parsed, err := template.New(id).Funcs(funcs).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", id, err)
	}
	entry.parsed = parsed
	return parsed, nil
}

// Has reports whether the id resolves to an override or a file.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.overrides[id]; ok {
		return true
	}
	_, ok := r.files[id]
	return ok
}

// List returns every file-backed template with its raw contents, sorted
// by id.
func (r *Registry) List() ([]Info, error) {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	entries := make(map[string]*fileEntry, len(r.files))
	for id, e := range r.files {
		entries[id] = e
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		e := entries[id]
		raw, err := fs.ReadFile(e.fsys, e.path)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", id, err)
		}
		out = append(out, Info{ID: id, Path: e.path, Template: string(raw)})
	}
	return out, nil
}
