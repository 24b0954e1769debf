package orchestrator

// Overlap counts shared post ids between two adapters for one account.
type Overlap struct {
	Account string `json:"account"`
	A       string `json:"a"`
	B       string `json:"b"`
	Shared  int    `json:"shared"`
	OnlyA   int    `json:"only_a"`
	OnlyB   int    `json:"only_b"`
}

// Overlaps compares every pair of successful adapters in a comparison-mode
// result. Pairs follow the order in which the adapters were attempted.
func (r AccountResult) Overlaps() []Overlap {
	var order []string
	for _, at := range r.Attempts {
		if _, ok := r.BySource[at.Adapter]; ok {
			order = append(order, at.Adapter)
		}
	}
	ids := make(map[string]map[string]struct{}, len(order))
	for _, name := range order {
		set := make(map[string]struct{}, len(r.BySource[name]))
		for _, p := range r.BySource[name] {
			set[p.ID] = struct{}{}
		}
		ids[name] = set
	}

	var out []Overlap
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			a, b := ids[order[i]], ids[order[j]]
			shared := 0
			for id := range a {
				if _, ok := b[id]; ok {
					shared++
				}
			}
			out = append(out, Overlap{
				Account: r.Account.Handle,
				A:       order[i],
				B:       order[j],
				Shared:  shared,
				OnlyA:   len(a) - shared,
				OnlyB:   len(b) - shared,
			})
		}
	}
	return out
}
