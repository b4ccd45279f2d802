package render

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/model"
)

// uniqueNames assigns each node a display name that is unique within the
// document. Clash requires unique proxy names and sing-box unique tags;
// duplicates get a "-2", "-3" suffix in aggregate order.
func uniqueNames(nodes []model.Node) []string {
	used := make(map[string]int, len(nodes))
	out := make([]string, len(nodes))
	for i, n := range nodes {
		name := n.DisplayName()
		cnt := used[name]
		used[name] = cnt + 1
		if cnt > 0 {
			name = fmt.Sprintf("%s-%d", name, cnt+1)
		}
		out[i] = name
	}
	return out
}

func pctEncode(s string) string {
	// RFC 3986 percent-encoding for query/fragment. Go's QueryEscape uses '+'
	// for spaces, which we rewrite to %20 to avoid ambiguity.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
