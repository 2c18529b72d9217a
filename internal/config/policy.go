package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache family names. Each family is backed by a separate cache instance with
// its own metrics.
const (
	CacheOrders = "orders"
	CacheFleet  = "fleet"
	CacheKPIs   = "kpis"
)

// CachePolicy determines how long query results stay cached. A family TTL
// applies to every operation of the family unless the operation has its own
// entry.
//
//	caches:
//	  orders:
//	    ttl: 30s
//	    operations:
//	      order: 2m
//	  fleet:
//	    ttl: 5s
type CachePolicy struct {
	Caches map[string]FamilyPolicy `yaml:"caches"`
}

type FamilyPolicy struct {
	TTL        time.Duration            `yaml:"ttl"`
	Operations map[string]time.Duration `yaml:"operations"`
}

// DefaultCachePolicy reflects the freshness needs of each family: live fleet
// positions go stale quickly, aggregated KPIs much less so.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		Caches: map[string]FamilyPolicy{
			CacheOrders: {TTL: 30 * time.Second},
			CacheFleet:  {TTL: 10 * time.Second},
			CacheKPIs:   {TTL: 60 * time.Second},
		},
	}
}

// LoadPolicy returns the default policy overlaid with the contents of the
// file at path. An empty path returns the defaults unchanged.
func LoadPolicy(path string) (CachePolicy, error) {
	policy := DefaultCachePolicy()
	if path == "" {
		return policy, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("reading cache policy: %w", err)
	}

	return ParsePolicy(content)
}

// ParsePolicy overlays the YAML document onto the default policy.
func ParsePolicy(content []byte) (CachePolicy, error) {
	policy := DefaultCachePolicy()

	var overrides CachePolicy
	if err := yaml.Unmarshal(content, &overrides); err != nil {
		return policy, fmt.Errorf("parsing cache policy: %w", err)
	}

	for family, fp := range overrides.Caches {
		if fp.TTL < 0 {
			return policy, fmt.Errorf("cache %q: ttl must not be negative", family)
		}

		current := policy.Caches[family]
		if fp.TTL > 0 {
			current.TTL = fp.TTL
		}
		for op, ttl := range fp.Operations {
			if ttl <= 0 {
				return policy, fmt.Errorf("cache %q operation %q: ttl must be positive", family, op)
			}
			if current.Operations == nil {
				current.Operations = make(map[string]time.Duration, len(fp.Operations))
			}
			current.Operations[op] = ttl
		}
		policy.Caches[family] = current
	}

	return policy, nil
}

// TTL resolves the time-to-live for an operation in a family. Unknown
// families fall back to one minute.
func (p CachePolicy) TTL(family, operation string) time.Duration {
	fp, ok := p.Caches[family]
	if !ok {
		return time.Minute
	}

	if ttl, ok := fp.Operations[operation]; ok {
		return ttl
	}

	if fp.TTL <= 0 {
		return time.Minute
	}

	return fp.TTL
}
