// Package coord implements the coordinator-to-coordinator tunnel: a small
// gRPC surface for fetching profiles of and cancelling queries that run on
// another node.
package coord

import (
	"encoding/json"
	"sync"

	"google.golang.org/grpc/encoding"
)

const grpcJSONCodecName = "json"

var registerCodecOnce sync.Once

type grpcJSONCodec struct{}

func (c *grpcJSONCodec) Name() string {
	return grpcJSONCodecName
}

func (c *grpcJSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (c *grpcJSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// EnsureGRPCJSONCodec registers the JSON codec used for the tunnel transport.
func EnsureGRPCJSONCodec() {
	registerCodecOnce.Do(func() {
		encoding.RegisterCodec(&grpcJSONCodec{})
	})
}
