// Package registry manages named volumes.
//
// A chainfs process usually serves more than one volume (an image file here,
// a badger directory there), and the registry is the one place that knows
// them all. Configuration loading fills it, the CLI looks volumes up by
// name, and shutdown drains it.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry provides thread-safe registration and lookup of volumes.
//
// Example usage:
//
//	reg := registry.New()
//	reg.AddVolume(&registry.Volume{Name: "scratch", Driver: d, Catalog: c})
//
//	vol, _ := reg.GetVolume("scratch")
//	f, _ := vol.OpenFile(ctx, "/docs/readme.md", file.ReadOnly)
type Registry struct {
	mu      sync.RWMutex
	volumes map[string]*Volume
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		volumes: make(map[string]*Volume),
	}
}

// AddVolume registers a volume under its name.
// Returns an error if a volume with the same name already exists.
func (r *Registry) AddVolume(v *Volume) error {
	if v == nil {
		return fmt.Errorf("cannot register nil volume")
	}
	if v.Name == "" {
		return fmt.Errorf("cannot register volume with empty name")
	}
	if v.Driver == nil {
		return fmt.Errorf("volume %q has no driver", v.Name)
	}
	if v.Catalog == nil {
		return fmt.Errorf("volume %q has no catalog", v.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.volumes[v.Name]; exists {
		return fmt.Errorf("volume %q: %w", v.Name, ErrVolumeExists)
	}

	r.volumes[v.Name] = v
	return nil
}

// GetVolume retrieves a volume by name.
func (r *Registry) GetVolume(name string) (*Volume, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, exists := r.volumes[name]
	if !exists {
		return nil, fmt.Errorf("volume %q: %w", name, ErrVolumeNotFound)
	}
	return v, nil
}

// RemoveVolume removes a volume from the registry without closing it; the
// caller keeps ownership of the stores.
func (r *Registry) RemoveVolume(name string) (*Volume, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, exists := r.volumes[name]
	if !exists {
		return nil, fmt.Errorf("volume %q: %w", name, ErrVolumeNotFound)
	}

	delete(r.volumes, name)
	return v, nil
}

// ListVolumes returns all registered volume names, sorted.
// The returned slice is a copy and safe to modify.
func (r *Registry) ListVolumes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.volumes))
	for name := range r.volumes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every registered volume and empties the registry. All
// volumes are attempted even if one fails; the collected errors are joined.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, v := range r.volumes {
		if err := v.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.volumes = make(map[string]*Volume)
	return errors.Join(errs...)
}
