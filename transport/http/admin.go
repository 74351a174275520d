package http

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"relay.dev/broadcast"
)

// Stats is the live operational counters exposed under /admin/stats,
// grounded on the teacher's openapi admin surface pattern of exposing
// runtime relay state through schema'd huma operations.
type Stats struct {
	ConnectedConsumers int    `json:"connected_consumers"`
	BroadcastDropped   uint64 `json:"broadcast_dropped"`
}

type statsOutput struct {
	Body Stats
}

func registerStats(api huma.API, bus *broadcast.Bus) {
	huma.Register(
		api,
		huma.Operation{
			OperationID: "relay-stats",
			Method:      "GET",
			Path:        "/admin/stats",
			Summary:     "broadcast bus operational counters",
			Tags:        []string{"admin"},
		},
		func(_ context.Context, _ *struct{}) (*statsOutput, error) {
			return &statsOutput{Body: Stats{
				ConnectedConsumers: bus.ConsumerCount(),
				BroadcastDropped:   bus.Dropped(),
			}}, nil
		},
	)
}
