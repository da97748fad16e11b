package limits

import (
	"sort"
	"sync"

	"mercator-hq/sluice/pkg/config"
	"mercator-hq/sluice/pkg/limits/budget"
)

// Registry is the shared table of resource limits and prices.
//
// Prices are fixed at load time. Limits are read on every admission check
// and written only by the adaptive controller; both go through the
// resource's own RWMutex. Resources that were not configured are registered
// on first reference with the default limit and no price, and are dropped
// again by Sweep once nothing refers to them.
type Registry struct {
	defaultLimit int

	mu        sync.RWMutex
	resources map[string]*resource
}

// resource is one registry entry.
type resource struct {
	name       string
	price      budget.Price
	configured int

	// lazy marks resources registered on first reference.
	lazy bool

	mu    sync.RWMutex
	limit int
}

// ResourceInfo is a snapshot of one resource.
type ResourceInfo struct {
	Name string `json:"name"`

	// Limit is the current base limit in requests per 60 seconds.
	Limit int `json:"limit"`

	// ConfiguredLimit is the limit loaded from configuration.
	ConfiguredLimit int `json:"configured_limit"`

	PriceInput  float64 `json:"price_input"`
	PriceOutput float64 `json:"price_output"`
}

// NewRegistry creates a registry from the configured resources.
func NewRegistry(defaultLimit int, resources map[string]config.ResourceConfig) *Registry {
	r := &Registry{
		defaultLimit: defaultLimit,
		resources:    make(map[string]*resource, len(resources)),
	}
	for name, rc := range resources {
		limit := rc.Limit
		if limit <= 0 {
			limit = defaultLimit
		}
		r.resources[name] = &resource{
			name:       name,
			price:      budget.Price{Input: rc.PriceInput, Output: rc.PriceOutput},
			configured: limit,
			limit:      limit,
		}
	}
	return r
}

// Limit returns the current base limit of a resource.
func (r *Registry) Limit(name string) int {
	res := r.getOrCreate(name)

	res.mu.RLock()
	defer res.mu.RUnlock()
	return res.limit
}

// UpdateLimit applies fn to the resource's limit under its write lock and
// returns the old and new values.
func (r *Registry) UpdateLimit(name string, fn func(current int) int) (old, updated int, ok bool) {
	r.mu.RLock()
	res, exists := r.resources[name]
	r.mu.RUnlock()
	if !exists {
		return 0, 0, false
	}

	res.mu.Lock()
	defer res.mu.Unlock()

	old = res.limit
	if next := fn(old); next > 0 {
		res.limit = next
	}
	return old, res.limit, true
}

// Price returns the unit prices of a resource. It implements
// budget.PriceTable.
func (r *Registry) Price(name string) budget.Price {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if res, ok := r.resources[name]; ok {
		return res.price
	}
	return budget.Price{}
}

// Limits returns the current limit of every resource.
func (r *Registry) Limits() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limits := make(map[string]int, len(r.resources))
	for name, res := range r.resources {
		res.mu.RLock()
		limits[name] = res.limit
		res.mu.RUnlock()
	}
	return limits
}

// Resources returns a snapshot of every resource ordered by name.
func (r *Registry) Resources() []ResourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ResourceInfo, 0, len(r.resources))
	for _, res := range r.resources {
		infos = append(infos, res.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources)
}

// Sweep removes lazily registered resources for which busy reports false
// and returns their names. Configured resources are never removed.
func (r *Registry) Sweep(busy func(name string) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for name, res := range r.resources {
		if res.lazy && !busy(name) {
			delete(r.resources, name)
			evicted = append(evicted, name)
		}
	}
	sort.Strings(evicted)
	return evicted
}

func (r *Registry) getOrCreate(name string) *resource {
	r.mu.RLock()
	res, exists := r.resources[name]
	r.mu.RUnlock()
	if exists {
		return res
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if res, exists = r.resources[name]; exists {
		return res
	}
	res = &resource{
		name:       name,
		configured: r.defaultLimit,
		limit:      r.defaultLimit,
		lazy:       true,
	}
	r.resources[name] = res
	return res
}

func (res *resource) info() ResourceInfo {
	res.mu.RLock()
	defer res.mu.RUnlock()

	return ResourceInfo{
		Name:            res.name,
		Limit:           res.limit,
		ConfiguredLimit: res.configured,
		PriceInput:      res.price.Input,
		PriceOutput:     res.price.Output,
	}
}
