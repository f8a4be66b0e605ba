// Package network holds the immutable network/upstream descriptors built
// once at startup from configuration and held for the process lifetime.
package network

// Upstream describes one JSON-RPC HTTP endpoint.
type Upstream struct {
	URL           string
	TimeoutMs     int
	MaxRetries    int
	RetryDelayMs  int
	Priority      int // lower = primary, higher = fallback; metrics only
}

// Kind distinguishes primary from fallback purely for metrics labeling.
type Kind string

const (
	Primary  Kind = "primary"
	Fallback Kind = "fallback"
)

// Descriptor is a single network's routing configuration: a required
// primary upstream and an optional fallback ("archive") upstream.
type Descriptor struct {
	Key      string
	Primary  Upstream
	Fallback *Upstream
}

// Registry is the immutable set of configured networks, keyed by network
// key, plus the resolution rule for the unscoped "/" endpoint: the
// "default" key if configured, else the first network in configuration
// order.
type Registry struct {
	byKey        map[string]*Descriptor
	order        []string
	defaultKey   string
}

func NewRegistry(descriptors []*Descriptor) (*Registry, error) {
	r := &Registry{byKey: make(map[string]*Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Primary.URL == "" {
			return nil, &ConfigError{Network: d.Key, Reason: "missing primary upstream url"}
		}
		r.byKey[d.Key] = d
		r.order = append(r.order, d.Key)
	}
	if _, ok := r.byKey["default"]; ok {
		r.defaultKey = "default"
	} else if len(r.order) > 0 {
		r.defaultKey = r.order[0]
	}
	return r, nil
}

func (r *Registry) Get(key string) (*Descriptor, bool) {
	d, ok := r.byKey[key]
	return d, ok
}

// DefaultKey resolves the network key used for the unscoped "POST /"
// endpoint.
func (r *Registry) DefaultKey() string { return r.defaultKey }

func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k])
	}
	return out
}

type ConfigError struct {
	Network string
	Reason  string
}

func (e *ConfigError) Error() string {
	return "network " + e.Network + ": " + e.Reason
}
