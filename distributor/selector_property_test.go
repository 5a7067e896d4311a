package distributor

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// buildPool registers one node per load value and polls it healthy. Loads
// at or above 100 leave the node full and unavailable.
func buildPool(loads []int64) *NodePool {
	p := NewNodePool()
	for i, load := range loads {
		name := fmt.Sprintf("w%d", i)
		_ = p.Add(NodeConfig{Name: name, Host: "127.0.0.1", Port: 9000 + i, MaxConnections: 100})
		_, _, _ = p.ApplyPollSuccess(name, HealthSnapshot{
			ActiveConnections: load, TotalLoads: 10, SuccessfulLoads: 10,
		}, 10)
	}
	return p
}

func availableNames(p *NodePool) map[string]bool {
	out := map[string]bool{}
	for _, n := range p.List() {
		if n.IsAvailable() {
			out[n.Name] = true
		}
	}
	return out
}

func TestSelector_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	loadsGen := gen.SliceOfN(6, gen.Int64Range(0, 120))

	properties.Property("every policy only ever picks available nodes", prop.ForAll(
		func(loads []int64) bool {
			pool := buildPool(loads)
			available := availableNames(pool)
			for _, policy := range []Policy{PolicyRoundRobin, PolicyLeastLoaded, PolicyWeighted} {
				s := NewSelector(pool, policy)
				for i := 0; i < 20; i++ {
					node, ok := s.Pick()
					if !ok {
						if len(available) != 0 {
							return false
						}
						continue
					}
					if !available[node.Name] {
						return false
					}
				}
			}
			return true
		},
		loadsGen,
	))

	properties.Property("least loaded picks a minimum-load node", prop.ForAll(
		func(loads []int64) bool {
			pool := buildPool(loads)
			s := NewSelector(pool, PolicyLeastLoaded)
			node, ok := s.Pick()
			if !ok {
				return len(availableNames(pool)) == 0
			}
			for _, other := range pool.List() {
				if other.IsAvailable() && other.LoadPercentage() < node.LoadPercentage() {
					return false
				}
			}
			return true
		},
		loadsGen,
	))

	properties.Property("round robin visits every available node within one lap", prop.ForAll(
		func(loads []int64) bool {
			pool := buildPool(loads)
			available := availableNames(pool)
			if len(available) == 0 {
				_, ok := NewSelector(pool, PolicyRoundRobin).Pick()
				return !ok
			}
			s := NewSelector(pool, PolicyRoundRobin)
			seen := map[string]bool{}
			for i := 0; i < len(available); i++ {
				node, ok := s.Pick()
				if !ok {
					return false
				}
				seen[node.Name] = true
			}
			return len(seen) == len(available)
		},
		loadsGen,
	))

	properties.TestingRun(t)
}
