package creditledger

import (
	"fmt"
	"sort"
)

// ServiceCost is the credit price of one invocation of a service type.
type ServiceCost struct {
	Type string `yaml:"type"`
	Cost int64  `yaml:"cost"`
}

// Limits caps the credits an account may spend per window.
type Limits struct {
	Daily   int64 `yaml:"daily"`
	Monthly int64 `yaml:"monthly"`
}

// StartingGrants is the balance a freshly provisioned account receives.
type StartingGrants struct {
	Standard int64 `yaml:"standard"`
	Elevated int64 `yaml:"elevated"`
}

// CatalogSource yields the catalog to use for one ledger operation.
type CatalogSource interface {
	Catalog() *Catalog
}

// Catalog is an immutable cost and limit table. It is safe for concurrent use.
type Catalog struct {
	costs  map[string]int64
	limits Limits
	grants StartingGrants
}

var _ CatalogSource = (*Catalog)(nil)

// NewCatalog builds a catalog. It rejects duplicate or empty service types,
// negative costs and non-positive limits.
func NewCatalog(services []ServiceCost, limits Limits, grants StartingGrants) (*Catalog, error) {
	if limits.Daily <= 0 {
		return nil, fmt.Errorf("creditledger: catalog: daily limit must be positive")
	}
	if limits.Monthly <= 0 {
		return nil, fmt.Errorf("creditledger: catalog: monthly limit must be positive")
	}
	if grants.Standard < 0 || grants.Elevated < 0 {
		return nil, fmt.Errorf("creditledger: catalog: starting grants must not be negative")
	}

	costs := make(map[string]int64, len(services))
	for i, s := range services {
		if s.Type == "" {
			return nil, fmt.Errorf("creditledger: catalog: services[%d]: type is required", i)
		}
		if s.Cost < 0 {
			return nil, fmt.Errorf("creditledger: catalog: services[%d] (%s): cost must not be negative", i, s.Type)
		}
		if _, dup := costs[s.Type]; dup {
			return nil, fmt.Errorf("creditledger: catalog: duplicate service type %q", s.Type)
		}
		costs[s.Type] = s.Cost
	}

	return &Catalog{costs: costs, limits: limits, grants: grants}, nil
}

// Catalog returns c itself.
func (c *Catalog) Catalog() *Catalog { return c }

// CostOf returns the cost of serviceType or ErrUnknownService.
func (c *Catalog) CostOf(serviceType string) (int64, error) {
	cost, ok := c.costs[serviceType]
	if !ok {
		return 0, ErrUnknownService
	}
	return cost, nil
}

// Limits returns the per-window spending caps.
func (c *Catalog) Limits() Limits { return c.limits }

// StartingGrants returns the provisioning amounts per tier.
func (c *Catalog) StartingGrants() StartingGrants { return c.grants }

// GrantFor returns the starting grant of tier.
func (c *Catalog) GrantFor(tier Tier) (int64, error) {
	switch tier {
	case TierStandard:
		return c.grants.Standard, nil
	case TierElevated:
		return c.grants.Elevated, nil
	default:
		return 0, ErrInvalidTier
	}
}

// Services lists the configured service costs ordered by type.
func (c *Catalog) Services() []ServiceCost {
	out := make([]ServiceCost, 0, len(c.costs))
	for t, cost := range c.costs {
		out = append(out, ServiceCost{Type: t, Cost: cost})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
