// Package http assembles the relay's HTTP surface: the content-negotiated
// root route (websocket upgrade or NIP-11 document), a huma-driven admin
// API, and browser CORS support, grounded on the teacher's chi/huma/rs-cors
// stack (pkg/protocol/openapi, pkg/app/relay/server.go).
package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"relay.dev/broadcast"
	"relay.dev/config"
)

// wsHandler is the minimal surface transport/ws.Server exposes, kept as an
// interface here so this package doesn't import transport/ws directly.
type wsHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// NewRouter builds the relay's top-level HTTP handler.
func NewRouter(cfg *config.C, bus *broadcast.Bus, ws wsHandler) http.Handler {
	router := chi.NewRouter()
	router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	}).Handler)

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case isWebsocketUpgrade(r):
			ws.ServeHTTP(w, r)
		case strings.Contains(r.Header.Get("Accept"), "application/nostr+json"):
			w.Header().Set("Content-Type", "application/nostr+json")
			_ = json.NewEncoder(w).Encode(relayInfo(cfg))
		default:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(cfg.AppName + ": nostr relay, connect via websocket\n"))
		}
	})

	api := humachi.New(router, &humachi.HumaConfig{OpenAPI: humachi.DefaultOpenAPIConfig()})
	registerInfo(api, cfg)
	registerStats(api, bus)

	return router
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
