// Package config loads the relay's configuration from the environment or an
// optional .env file below the XDG config directory, grounded on the
// go-simpler.org/env + adrg/xdg pattern used throughout the teacher repo.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/kardianos/osext"
	"go-simpler.org/env"

	"relay.dev/internal/apputil"
	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
)

// DatabaseEngine selects a repository backend.
type DatabaseEngine string

const (
	Embedded  DatabaseEngine = "embedded"
	Networked DatabaseEngine = "networked"
)

// VerifiedUsersMode controls NIP-05 enforcement strictness.
type VerifiedUsersMode string

const (
	VerifiedDisabled VerifiedUsersMode = "disabled"
	VerifiedPassive  VerifiedUsersMode = "passive"
	VerifiedEnabled  VerifiedUsersMode = "enabled"
)

// C is the full relay configuration (spec.md §6).
type C struct {
	AppName string `env:"RELAY_APP_NAME" default:"relay.dev"`
	Config  string `env:"RELAY_CONFIG_DIR" usage:"directory holding a .env override file"`

	Listen   string `env:"RELAY_LISTEN" default:"0.0.0.0" usage:"network listen address"`
	Port     int    `env:"RELAY_PORT" default:"3334" usage:"port to listen on"`
	RelayURL string `env:"RELAY_URL" usage:"advertised external URL, used for NIP-42 host binding"`

	LogLevel string `env:"RELAY_LOG_LEVEL" default:"info" usage:"fatal error warn info debug trace"`
	Pprof    bool   `env:"RELAY_PPROF" default:"false" usage:"enable pprof on 127.0.0.1:6060"`

	DatabaseEngine   DatabaseEngine `env:"RELAY_DB_ENGINE" default:"embedded" usage:"embedded or networked"`
	DataDir          string         `env:"RELAY_DATA_DIR" usage:"embedded backend storage directory"`
	Connection       string         `env:"RELAY_DB_CONNECTION" usage:"networked backend read/write DSN"`
	ConnectionWrite  string         `env:"RELAY_DB_CONNECTION_WRITE" usage:"networked backend write-only DSN, defaults to Connection"`
	MaxConn          int            `env:"RELAY_DB_MAX_CONN" default:"10"`
	MinConn          int            `env:"RELAY_DB_MIN_CONN" default:"1"`

	MessagesPerSec      int      `env:"RELAY_LIMITS_MESSAGES_PER_SEC" default:"0" usage:"global writer rate limit, 0 disables"`
	RateLimitWhitelist  []string `env:"RELAY_LIMITS_RATE_LIMIT_WHITELIST" usage:"client IPs exempt from the per-connection publish limiter"`
	MaxEventBytes       int      `env:"RELAY_LIMITS_MAX_EVENT_BYTES" default:"262144"`
	MaxWSMessageBytes   int64    `env:"RELAY_LIMITS_MAX_WS_MESSAGE_BYTES" default:"1048576"`
	MaxWSFrameBytes     int64    `env:"RELAY_LIMITS_MAX_WS_FRAME_BYTES" default:"1048576"`
	MaxSubscriptions    int      `env:"RELAY_LIMITS_MAX_SUBSCRIPTIONS" default:"32"`

	PubkeyWhitelist []string `env:"RELAY_AUTHORIZATION_PUBKEY_WHITELIST" usage:"if set, only these pubkeys (or their NIP-26 delegators) may publish"`

	AuthRequired bool `env:"RELAY_AUTH_REQUIRED" default:"false"`

	VerifiedUsersMode    VerifiedUsersMode `env:"RELAY_VERIFIED_USERS_MODE" default:"disabled"`
	VerifiedUsersFreshMs int64             `env:"RELAY_VERIFIED_USERS_FRESHNESS_MS" default:"86400000" usage:"how long a NIP-05 verification stays valid"`

	CleanupContactList bool `env:"RELAY_OPTIONS_CLEANUP_CONTACT_LIST" default:"false"`
}

// New loads configuration from the environment. If Config/.env exists, its
// values are applied only to variables not already set in the environment,
// so the environment takes precedence over the file.
func New() (cfg *C, err error) {
	cfg = &C{}
	if err = env.Load(cfg, nil); chk.T(err) {
		return
	}
	if cfg.Config == "" {
		cfg.Config = filepath.Join(xdg.ConfigHome, cfg.AppName)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(xdg.DataHome, cfg.AppName)
	}
	envPath := filepath.Join(cfg.Config, ".env")
	if apputil.FileExists(envPath) {
		var kvs map[string]string
		if kvs, err = readDotEnv(envPath); chk.E(err) {
			return
		}
		for k, v := range kvs {
			if os.Getenv(k) == "" {
				_ = os.Setenv(k, v)
			}
		}
		if err = env.Load(cfg, nil); chk.E(err) {
			return
		}
		lol.SetLevel(lol.GetLevel(cfg.LogLevel))
		lol.I.F("loaded configuration overrides from %s", envPath)
	}
	return
}

func readDotEnv(path string) (kv map[string]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	kv = map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		kv[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return kv, sc.Err()
}

// BinaryPath resolves the running executable's path, falling back to
// os.Args[0] when it cannot be determined.
func BinaryPath() string {
	p, err := osext.Executable()
	if err != nil {
		return os.Args[0]
	}
	return p
}

// PrintHelp writes a usage summary for the configuration struct.
func PrintHelp(cfg *C, w io.Writer) {
	fmt.Fprintf(w, "%s\n\nEnvironment variables:\n\n", cfg.AppName)
	env.Usage(cfg, w, nil)
}

// PrintEnv writes the effective configuration as KEY=value lines, sorted.
func PrintEnv(cfg *C, w io.Writer) {
	kvs := asKV(cfg)
	sort.Slice(kvs, func(i, j int) bool { return kvs[i][0] < kvs[j][0] })
	for _, kv := range kvs {
		fmt.Fprintf(w, "%s=%s\n", kv[0], kv[1])
	}
}

func asKV(cfg *C) (out [][2]string) {
	out = append(out,
		[2]string{"RELAY_APP_NAME", cfg.AppName},
		[2]string{"RELAY_LISTEN", cfg.Listen},
		[2]string{"RELAY_PORT", strconv.Itoa(cfg.Port)},
		[2]string{"RELAY_URL", cfg.RelayURL},
		[2]string{"RELAY_LOG_LEVEL", cfg.LogLevel},
		[2]string{"RELAY_DB_ENGINE", string(cfg.DatabaseEngine)},
		[2]string{"RELAY_DATA_DIR", cfg.DataDir},
		[2]string{"RELAY_VERIFIED_USERS_MODE", string(cfg.VerifiedUsersMode)},
	)
	return
}
