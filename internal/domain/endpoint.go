package domain

import "fmt"

// NodeEndpoint identifies one coordinator node of the cluster.
type NodeEndpoint struct {
	Address    string `json:"address"`
	FabricPort int    `json:"fabricPort"`
}

// Equal reports whether two endpoints name the same node.
func (e NodeEndpoint) Equal(other NodeEndpoint) bool {
	return e.Address == other.Address && e.FabricPort == other.FabricPort
}

func (e NodeEndpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Address, e.FabricPort)
}

// Route is the decision of whether an operation targets the local node.
type Route int

// Routing outcomes.
const (
	RouteLocal Route = iota
	RouteRemote
)

// RouteTo decides whether an operation recorded against endpoint must run
// locally or be forwarded. Kept as an explicit function so the decision is
// testable apart from tunnel acquisition.
func RouteTo(endpoint, identity NodeEndpoint) Route {
	if endpoint.Equal(identity) {
		return RouteLocal
	}
	return RouteRemote
}
