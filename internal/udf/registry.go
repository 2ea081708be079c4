// Package udf keeps the catalog of user-defined functions that computed
// columns and batch pipelines can reference by name.
package udf

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigotdb/spigot/internal/model"
)

// ErrNotFound is returned when a function name is unknown.
var ErrNotFound = errors.New("udf not found")

// ErrExists is returned when a function name is already registered.
var ErrExists = errors.New("udf already exists")

// entry pairs the public function record with its source body, which is
// never exposed through the API after registration.
type entry struct {
	fn   model.UDF
	code string
}

// Registry is the in-memory catalog of registered functions, keyed by name.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]*entry)}
}

// Register validates the definition and stores a new function. Registering
// a name that is already taken fails with ErrExists; names are never
// silently replaced.
func (r *Registry) Register(def model.UDFDefinition) (*model.UDF, error) {
	if def.Name == "" {
		return nil, errors.New("udf name is required")
	}
	if !model.ValidUDFLanguage(def.Language) {
		return nil, fmt.Errorf("unknown udf language %q", def.Language)
	}
	if def.Code == "" {
		return nil, errors.New("udf code is required")
	}
	if def.ReturnType == "" {
		return nil, errors.New("udf return_type is required")
	}
	for _, p := range def.Parameters {
		if p.Name == "" || p.Type == "" {
			return nil, errors.New("udf parameters need both name and type")
		}
	}

	deterministic := true
	if def.Deterministic != nil {
		deterministic = *def.Deterministic
	}

	fn := model.UDF{
		ID:            uuid.NewString(),
		Name:          def.Name,
		Language:      def.Language,
		Parameters:    def.Parameters,
		ReturnType:    def.ReturnType,
		Description:   def.Description,
		Deterministic: deterministic,
		CreatedAt:     time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.fns[fn.Name]; taken {
		return nil, fmt.Errorf("%w: %s", ErrExists, fn.Name)
	}
	r.fns[fn.Name] = &entry{fn: fn, code: def.Code}

	out := fn
	return &out, nil
}

// Get returns a function by name.
func (r *Registry) Get(name string) (*model.UDF, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.fns[name]
	if !ok {
		return nil, ErrNotFound
	}
	out := e.fn
	return &out, nil
}

// List returns all registered functions sorted by name.
func (r *Registry) List() []*model.UDF {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.UDF, 0, len(r.fns))
	for _, e := range r.fns {
		fn := e.fn
		out = append(out, &fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Unregister removes a function from the catalog.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fns[name]; !ok {
		return ErrNotFound
	}
	delete(r.fns, name)
	return nil
}

// Execute checks an invocation against the declared signature and counts
// it toward the function's usage. Every declared parameter must be supplied
// and no undeclared parameter is accepted.
func (r *Registry) Execute(name string, params map[string]interface{}) (*model.UDFExecution, error) {
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.fns[name]
	if !ok {
		return nil, ErrNotFound
	}

	declared := make(map[string]bool, len(e.fn.Parameters))
	for _, p := range e.fn.Parameters {
		declared[p.Name] = true
		if _, given := params[p.Name]; !given {
			return nil, fmt.Errorf("missing parameter %q", p.Name)
		}
	}
	for arg := range params {
		if !declared[arg] {
			return nil, fmt.Errorf("undeclared parameter %q", arg)
		}
	}

	e.fn.UsageCount++

	return &model.UDFExecution{
		UDFName:         e.fn.Name,
		Parameters:      params,
		ExecutionTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
