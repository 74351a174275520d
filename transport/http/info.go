package http

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"relay.dev/config"
)

// RelayInfo is the NIP-11 relay information document.
type RelayInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Software      string   `json:"software"`
	Version       string   `json:"version,omitempty"`
	SupportedNIPs []int    `json:"supported_nips"`
	Limitation    Limits   `json:"limitation"`
}

// Limits mirrors the subset of NIP-11's limitation object this relay
// actually enforces (spec §6).
type Limits struct {
	MaxMessageLength int  `json:"max_message_length,omitempty"`
	MaxSubscriptions int  `json:"max_subscriptions,omitempty"`
	AuthRequired     bool `json:"auth_required"`
}

type infoOutput struct {
	Body RelayInfo
}

// registerInfo wires the NIP-11 document as a huma operation under /admin,
// alongside the rest of the introspectable admin surface; the bare GET /
// path is reserved for content-negotiated websocket-upgrade-or-NIP-11
// dispatch in router.go, since huma and a raw chi handler can't both own
// the same route.
func registerInfo(api huma.API, cfg *config.C) {
	huma.Register(
		api,
		huma.Operation{
			OperationID: "relay-info",
			Method:      "GET",
			Path:        "/admin/info",
			Summary:     "NIP-11 relay information document",
			Tags:        []string{"meta"},
		},
		func(_ context.Context, _ *struct{}) (*infoOutput, error) {
			return &infoOutput{Body: relayInfo(cfg)}, nil
		},
	)
}

func relayInfo(cfg *config.C) RelayInfo {
	return RelayInfo{
		Name:          cfg.AppName,
		Software:      "relay.dev",
		SupportedNIPs: []int{1, 5, 9, 11, 26, 42},
		Limitation: Limits{
			MaxMessageLength: int(cfg.MaxWSMessageBytes),
			MaxSubscriptions: cfg.MaxSubscriptions,
			AuthRequired:     cfg.AuthRequired,
		},
	}
}
