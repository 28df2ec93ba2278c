package sites

import (
	"github.com/sells-group/deal-pipeline/internal/source"
)

// Names lists the built-in adapters in registration order.
var Names = []string{"bb", "mv", "ec", "bfs"}

// DefaultBFSQuery is the aggregator search term covering all UK listings.
const DefaultBFSQuery = "united kingdom"

// NewRegistry builds a registry of every built-in adapter, configured from
// cfgs keyed by source name. Sources missing from cfgs use defaults.
func NewRegistry(cfgs map[string]Config) *source.Registry {
	r := source.NewRegistry()
	r.Register(NewBB(cfgs["bb"]))
	r.Register(NewMV(cfgs["mv"]))
	r.Register(NewEC(cfgs["ec"]))
	r.Register(NewBFS(cfgs["bfs"], DefaultBFSQuery))
	return r
}
