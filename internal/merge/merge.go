// Package merge combines per-source node lists into one deduplicated
// aggregate.
package merge

import "github.com/John-Robertt/submerge-go/internal/model"

// SourceNodes is one successfully parsed source in submission order.
type SourceNodes struct {
	URL   string
	Nodes []model.Node
}

// Merge is a deterministic, side-effect-free reduce: sources in submission
// order, nodes in parse order, first seen identity wins. Running it twice on
// the same inputs yields identical aggregates.
func Merge(sources []SourceNodes) []model.Node {
	total := 0
	for _, s := range sources {
		total += len(s.Nodes)
	}

	seen := make(map[model.Identity]struct{}, total)
	out := make([]model.Node, 0, total)
	for _, s := range sources {
		for _, n := range s.Nodes {
			id := n.Identity()
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}
