package creditledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cl "github.com/ineyio/creditledger"
)

func TestNewCatalog(t *testing.T) {
	limits := cl.Limits{Daily: 10, Monthly: 100}

	t.Run("rejects bad input", func(t *testing.T) {
		cases := map[string]struct {
			services []cl.ServiceCost
			limits   cl.Limits
			grants   cl.StartingGrants
		}{
			"empty type":     {[]cl.ServiceCost{{Type: "", Cost: 1}}, limits, cl.StartingGrants{}},
			"negative cost":  {[]cl.ServiceCost{{Type: "a", Cost: -1}}, limits, cl.StartingGrants{}},
			"duplicate":      {[]cl.ServiceCost{{Type: "a"}, {Type: "a"}}, limits, cl.StartingGrants{}},
			"zero daily":     {nil, cl.Limits{Monthly: 1}, cl.StartingGrants{}},
			"zero monthly":   {nil, cl.Limits{Daily: 1}, cl.StartingGrants{}},
			"negative grant": {nil, limits, cl.StartingGrants{Standard: -1}},
		}
		for name, c := range cases {
			_, err := cl.NewCatalog(c.services, c.limits, c.grants)
			assert.Error(t, err, name)
		}
	})

	t.Run("lookups", func(t *testing.T) {
		cat, err := cl.NewCatalog(
			[]cl.ServiceCost{{Type: "zeta", Cost: 3}, {Type: "alpha", Cost: 7}},
			limits,
			cl.StartingGrants{Standard: 25, Elevated: 900},
		)
		require.NoError(t, err)

		cost, err := cat.CostOf("alpha")
		require.NoError(t, err)
		assert.Equal(t, int64(7), cost)

		_, err = cat.CostOf("beta")
		assert.ErrorIs(t, err, cl.ErrUnknownService)

		grant, err := cat.GrantFor(cl.TierElevated)
		require.NoError(t, err)
		assert.Equal(t, int64(900), grant)
		_, err = cat.GrantFor("gold")
		assert.ErrorIs(t, err, cl.ErrInvalidTier)

		assert.Equal(t, limits, cat.Limits())
		assert.Equal(t, []cl.ServiceCost{{Type: "alpha", Cost: 7}, {Type: "zeta", Cost: 3}}, cat.Services())
		assert.Same(t, cat, cat.Catalog())
	})
}
