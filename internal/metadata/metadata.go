// Package metadata reports live active, idle, max and min connection counts
// for the pool kinds poolmeter knows about.
package metadata

// PoolMetadata describes the current state of one pool. Each accessor
// returns false when the pool kind cannot report that value.
type PoolMetadata interface {
	Active() (int, bool)
	Idle() (int, bool)
	Max() (int, bool)
	Min() (int, bool)
}

// Provider returns metadata for pools it recognises and nil otherwise.
type Provider interface {
	Metadata(pool any) PoolMetadata
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(pool any) PoolMetadata

// Metadata calls f.
func (f ProviderFunc) Metadata(pool any) PoolMetadata {
	return f(pool)
}

// Providers is an ordered provider list. The first match wins.
type Providers []Provider

// Metadata returns the metadata of the first provider supporting pool.
func (ps Providers) Metadata(pool any) PoolMetadata {
	for _, p := range ps {
		if p == nil {
			continue
		}
		if md := p.Metadata(pool); md != nil {
			return md
		}
	}
	return nil
}

// DefaultProviders returns the providers for every pool kind in this module.
func DefaultProviders() Providers {
	return Providers{PgxProvider{}, SQLProvider{}}
}

// Snapshot is a point-in-time view of a pool, for reports and JSON output.
type Snapshot struct {
	Name      string `json:"name"`
	Supported bool   `json:"supported"`
	Active    *int   `json:"active,omitempty"`
	Idle      *int   `json:"idle,omitempty"`
	Max       *int   `json:"max,omitempty"`
	Min       *int   `json:"min,omitempty"`
}

// TakeSnapshot reads the current metadata of pool.
func TakeSnapshot(name string, pool any, providers Providers) Snapshot {
	snap := Snapshot{Name: name}
	md := providers.Metadata(pool)
	if md == nil {
		return snap
	}
	snap.Supported = true
	snap.Active = value(md.Active)
	snap.Idle = value(md.Idle)
	snap.Max = value(md.Max)
	snap.Min = value(md.Min)
	return snap
}

func value(get func() (int, bool)) *int {
	v, ok := get()
	if !ok {
		return nil
	}
	return &v
}
