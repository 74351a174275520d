// Package nip05 implements the NIP-05 DNS identity verification worker
// named as an external collaborator by spec.md §1/§6: it consumes kind-0
// metadata events off a channel fed by the Writer, resolves the claimed
// identity against https://<domain>/.well-known/nostr.json, and writes the
// outcome back through the repository's verification CRUD surface only —
// it never touches the event store directly, preserving the
// Writer-is-sole-writer invariant (spec §4.3).
package nip05

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
	"relay.dev/nostr"
	"relay.dev/store"
)

// metadataContent is the JSON-decoded subset of a kind-0 event's content
// field this worker cares about.
type metadataContent struct {
	NIP05 string `json:"nip05"`
}

// wellKnownResponse is the shape of a .well-known/nostr.json document.
type wellKnownResponse struct {
	Names map[string]string `json:"names"`
}

// Worker consumes metadata events and resolves their NIP-05 claims.
type Worker struct {
	repo   store.VerificationStore
	client *http.Client
	in     <-chan *nostr.Event

	// resolveOverrideHost, when set, replaces the scheme+host of the
	// well-known lookup with a plain-HTTP address instead of
	// https://<domain>, so tests can point it at an httptest.Server.
	resolveOverrideHost string
}

// New constructs a Worker. in is the channel the Writer forwards every
// kind-0 event onto unless VerifiedUsersMode is disabled (spec §4.3 step 2).
func New(repo store.VerificationStore, in <-chan *nostr.Event) *Worker {
	return &Worker{
		repo:   repo,
		client: &http.Client{Timeout: 10 * time.Second},
		in:     in,
	}
}

// Run drains the metadata channel until ctx is cancelled or the channel is
// closed by the Writer shutting down.
func (w *Worker) Run(ctx context.Context) {
	lol.I.F("nip05 worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-w.in:
			if !ok {
				return
			}
			w.handle(ctx, e)
		}
	}
}

func (w *Worker) handle(ctx context.Context, e *nostr.Event) {
	var meta metadataContent
	if err := json.Unmarshal([]byte(e.Content), &meta); err != nil || meta.NIP05 == "" {
		return
	}
	name, domain, err := splitIdentifier(meta.NIP05)
	if err != nil {
		chk.E(w.repo.FailVerification(ctx, e.Pubkey, time.Now()))
		return
	}
	pubkey, err := w.resolve(ctx, name, domain)
	if err != nil || !strings.EqualFold(pubkey, e.Pubkey) {
		lol.T.F("nip05 verification failed for %s: %v", e.Pubkey, err)
		chk.E(w.repo.FailVerification(ctx, e.Pubkey, time.Now()))
		return
	}
	// CreateVerification upserts by pubkey in both backends, so a repeat
	// claim from the same author just refreshes verified_at.
	chk.E(w.repo.CreateVerification(ctx, e.Pubkey, meta.NIP05))
}

func splitIdentifier(id string) (name, domain string, err error) {
	parts := strings.SplitN(id, "@", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("malformed nip05 identifier %q", id)
	}
	name = parts[0]
	if name == "" {
		name = "_"
	}
	return name, parts[1], nil
}

func (w *Worker) resolve(ctx context.Context, name, domain string) (string, error) {
	scheme, host := "https", domain
	if w.resolveOverrideHost != "" {
		scheme, host = "http", w.resolveOverrideHost
	}
	u := fmt.Sprintf("%s://%s/.well-known/nostr.json?name=%s", scheme, host, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("well-known lookup for %s returned %d", domain, resp.StatusCode)
	}
	var body wellKnownResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	pk, ok := body.Names[name]
	if !ok {
		return "", fmt.Errorf("name %q not present in well-known document for %s", name, domain)
	}
	return pk, nil
}

// ReapStale runs get_oldest_before/fail on records that have drifted past
// the operator's freshness window, for periodic background re-verification
// rather than relying solely on the next authored event.
func ReapStale(ctx context.Context, repo store.VerificationStore, cutoff time.Duration, batch int) error {
	stale, err := repo.GetOldestVerificationsBefore(ctx, time.Now().Add(-cutoff), batch)
	if err != nil {
		return err
	}
	for _, rec := range stale {
		lol.T.F("nip05 record for %s is stale, marking failed pending re-verification", rec.Pubkey)
		if err := repo.FailVerification(ctx, rec.Pubkey, time.Now()); chk.E(err) {
			continue
		}
	}
	return nil
}
