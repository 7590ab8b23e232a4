package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Registry is the catalog of known plugin descriptors. It is independent of
// whether an instance is loaded.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Metadata
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Metadata)}
}

// ValidateMetadata checks the descriptor invariants every registered plugin
// must satisfy.
func ValidateMetadata(meta Metadata) error {
	if meta.ID == "" {
		return registrationError("id", "plugin id cannot be empty")
	}
	if meta.Name == "" {
		return registrationError("name", "plugin %s name cannot be empty", meta.ID)
	}
	if meta.Version == "" {
		return registrationError("version", "plugin %s version cannot be empty", meta.ID)
	}
	if meta.ComplexityScore < 0 || meta.ComplexityScore > MaxComplexityScore {
		return registrationError("complexity_score", "plugin %s complexity score %d outside [0, %d]", meta.ID, meta.ComplexityScore, MaxComplexityScore)
	}
	if meta.MinDataSize < 0 {
		return registrationError("min_data_size", "plugin %s min data size cannot be negative", meta.ID)
	}
	if meta.MinDataSize > meta.MaxDataSize {
		return registrationError("min_data_size", "plugin %s min data size %d exceeds max %d", meta.ID, meta.MinDataSize, meta.MaxDataSize)
	}
	if meta.AccuracyScore != nil && (*meta.AccuracyScore < 0 || *meta.AccuracyScore > 1) {
		return registrationError("accuracy_score", "plugin %s accuracy score must be within [0, 1]", meta.ID)
	}
	return nil
}

// Register adds a descriptor. Duplicates and invalid descriptors are rejected
// and leave the catalog unchanged.
func (r *Registry) Register(meta Metadata) error {
	if err := ValidateMetadata(meta); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[meta.ID]; exists {
		return registrationError("id", "plugin %s already registered", meta.ID)
	}
	r.entries[meta.ID] = meta.Clone()
	return nil
}

// Replace inserts or overwrites a descriptor.
func (r *Registry) Replace(meta Metadata) error {
	if err := ValidateMetadata(meta); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[meta.ID] = meta.Clone()
	return nil
}

// Unregister removes a descriptor. Removing an absent id returns a not found
// error and changes nothing.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return notFound(id)
	}
	delete(r.entries, id)
	return nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.entries[id]
	if !ok {
		return Metadata{}, false
	}
	return meta.Clone(), true
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// List returns every descriptor ordered by id.
func (r *Registry) List() []Metadata {
	return r.filter(func(Metadata) bool { return true })
}

// ByCategory returns descriptors of the given category ordered by id.
func (r *Registry) ByCategory(category Category) []Metadata {
	return r.filter(func(m Metadata) bool { return m.Category == category })
}

// ByCapability returns descriptors advertising capability c ordered by id.
func (r *Registry) ByCapability(c Capability) []Metadata {
	return r.filter(func(m Metadata) bool { return m.HasCapability(c) })
}

// ByTag returns descriptors carrying tag ordered by id.
func (r *Registry) ByTag(tag string) []Metadata {
	return r.filter(func(m Metadata) bool { return m.HasTag(tag) })
}

// Count returns the number of registered descriptors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) filter(keep func(Metadata) bool) []Metadata {
	r.mu.RLock()
	out := make([]Metadata, 0, len(r.entries))
	for _, meta := range r.entries {
		if keep(meta) {
			out = append(out, meta.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save writes the catalog to path as a JSON object keyed by id.
func (r *Registry) Save(path string) error {
	r.mu.RLock()
	raw, err := json.MarshalIndent(r.entries, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadRegistry reads a catalog previously written by Save. Every entry is
// validated again.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var entries map[string]Metadata
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	r := NewRegistry()
	for id, meta := range entries {
		if meta.ID != id {
			return nil, registrationError("id", "registry entry %s carries id %q", id, meta.ID)
		}
		if err := r.Register(meta); err != nil {
			return nil, err
		}
	}
	return r, nil
}
