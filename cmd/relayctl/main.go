// Command relayctl is a small operator CLI for out-of-band repository
// maintenance: storage optimization (optionally marking stale NIP-05
// verifications failed) and recording a NIP-05 verification claim without a
// lookup. The whitelist subcommands only print a note, since the pubkey
// whitelist is static configuration. Grounded on the teacher's cmd/lerproxy use of alexflint/go-arg for
// single-purpose command-line tools.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alexflint/go-arg"

	"relay.dev/config"
	"relay.dev/internal/chk"
	"relay.dev/nip05"
	"relay.dev/store"
	"relay.dev/store/embedded"
	"relay.dev/store/networked"
)

type whitelistAddCmd struct {
	Pubkey string `arg:"positional,required"`
}

type whitelistRemoveCmd struct {
	Pubkey string `arg:"positional,required"`
}

type nip05VerifyCmd struct {
	Pubkey string `arg:"positional,required"`
	Name   string `arg:"positional,required" help:"the NIP-05 identifier, e.g. alice@example.com"`
}

type optimizeCmd struct {
	ReapStaleNip05 time.Duration `arg:"--reap-stale-nip05" help:"also mark NIP-05 verifications older than this duration as failed"`
}

type args struct {
	WhitelistAdd    *whitelistAddCmd    `arg:"subcommand:whitelist-add"`
	WhitelistRemove *whitelistRemoveCmd `arg:"subcommand:whitelist-remove"`
	Nip05Verify     *nip05VerifyCmd     `arg:"subcommand:nip05-verify"`
	Optimize        *optimizeCmd        `arg:"subcommand:optimize"`
}

func main() {
	var a args
	arg.MustParse(&a)

	cfg, err := config.New()
	if chk.T(err) {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := openRepository(ctx, cfg)
	if chk.T(err) {
		fmt.Fprintf(os.Stderr, "ERROR opening repository: %s\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	switch {
	case a.WhitelistAdd != nil:
		fmt.Printf("note: pubkey whitelisting is static configuration (RELAY_AUTHORIZATION_PUBKEY_WHITELIST); add %s there and restart the relay\n", a.WhitelistAdd.Pubkey)
	case a.WhitelistRemove != nil:
		fmt.Printf("note: pubkey whitelisting is static configuration (RELAY_AUTHORIZATION_PUBKEY_WHITELIST); remove %s there and restart the relay\n", a.WhitelistRemove.Pubkey)
	case a.Nip05Verify != nil:
		runVerify(ctx, repo, a.Nip05Verify)
	case a.Optimize != nil:
		if err := repo.Optimize(ctx); chk.T(err) {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
			os.Exit(1)
		}
		if a.Optimize.ReapStaleNip05 > 0 {
			if err := nip05.ReapStale(ctx, repo, a.Optimize.ReapStaleNip05, 256); chk.T(err) {
				fmt.Fprintf(os.Stderr, "ERROR reaping stale verifications: %s\n", err)
				os.Exit(1)
			}
		}
		fmt.Println("optimize complete")
	default:
		fmt.Fprintln(os.Stderr, "no subcommand given; try whitelist-add, whitelist-remove, nip05-verify, or optimize")
		os.Exit(1)
	}
}

func runVerify(ctx context.Context, repo store.VerificationStore, cmd *nip05VerifyCmd) {
	if err := repo.CreateVerification(ctx, cmd.Pubkey, cmd.Name); chk.T(err) {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("recorded verification claim for %s as %s\n", cmd.Pubkey, cmd.Name)
}

func openRepository(ctx context.Context, cfg *config.C) (store.I, error) {
	switch cfg.DatabaseEngine {
	case config.Networked:
		return networked.Open(ctx, cfg.Connection, cfg.ConnectionWrite, int32(cfg.MaxConn), int32(cfg.MinConn))
	default:
		return embedded.Open(ctx, cfg.DataDir)
	}
}
