// Package session owns the model that is currently resident in the
// inference runtime. It keeps the registry of known models, loads the
// active one, and swaps it on request so that at most one model is in
// memory at a time.
package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/54b3r/hamdam-go/internal/langdetect"
)

// ErrConfiguration marks a problem with the model setup: an unknown model
// name, an unsupported size class, or an invalid descriptor.
var ErrConfiguration = errors.New("session: configuration error")

// UnknownModelError is returned when a model name is not registered.
type UnknownModelError struct {
	Name string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("session: model %q not found", e.Name)
}

// Is makes errors.Is(err, ErrConfiguration) true for unknown models.
func (e *UnknownModelError) Is(target error) bool { return target == ErrConfiguration }

// Capability says how a model must be prompted.
type Capability string

const (
	// CapabilityChat models take a list of role-tagged messages.
	CapabilityChat Capability = "chat"
	// CapabilityCompletion models only continue a single prompt string.
	CapabilityCompletion Capability = "completion"
)

// Descriptor describes a model that can be loaded. It is immutable once
// registered.
type Descriptor struct {
	// Name is the user-facing identifier, e.g. "dorna".
	Name string `yaml:"name" json:"name"`

	// Path is the GGUF weights file. Only its base name matters here: it
	// carries the size class used for GPU layer estimation.
	Path string `yaml:"path" json:"path,omitempty"`

	// RuntimeModel is the tag the runtime serves the weights under.
	// Defaults to Name.
	RuntimeModel string `yaml:"runtime_model" json:"runtime_model,omitempty"`

	Capability Capability          `yaml:"capability" json:"capability"`
	Language   langdetect.Language `yaml:"language" json:"language"`
}

// Model returns the runtime tag for the descriptor.
func (d Descriptor) Model() string {
	if d.RuntimeModel != "" {
		return d.RuntimeModel
	}
	return d.Name
}

// Validate reports descriptor fields that cannot work.
func (d Descriptor) Validate() error {
	var errs []string
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, "name is required")
	}
	if d.Capability != CapabilityChat && d.Capability != CapabilityCompletion {
		errs = append(errs, fmt.Sprintf("capability %q must be chat or completion", d.Capability))
	}
	if !d.Language.Valid() {
		errs = append(errs, fmt.Sprintf("language %q must be en or fa", d.Language))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: model %q: %s", ErrConfiguration, d.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Registry is the ordered set of models that may be loaded.
type Registry struct {
	order []string
	byKey map[string]Descriptor
}

// NewRegistry registers every descriptor in order.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds d. Names must be unique.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, dup := r.byKey[d.Name]; dup {
		return fmt.Errorf("%w: model %q registered twice", ErrConfiguration, d.Name)
	}
	r.order = append(r.order, d.Name)
	r.byKey[d.Name] = d
	return nil
}

// Lookup returns the descriptor for name or an *UnknownModelError.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.byKey[name]
	if !ok {
		return Descriptor{}, &UnknownModelError{Name: name}
	}
	return d, nil
}

// Names returns model names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byKey[n])
	}
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int { return len(r.order) }
