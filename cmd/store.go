package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/marcus/huddle/internal/config"
	"github.com/marcus/huddle/internal/engine"
	"github.com/marcus/huddle/internal/identity"
	"github.com/marcus/huddle/internal/push"
	"github.com/marcus/huddle/internal/remote"
	"github.com/marcus/huddle/internal/remote/httpapi"
	"github.com/marcus/huddle/internal/remote/memory"
	"github.com/marcus/huddle/internal/remote/postgres"
	"github.com/marcus/huddle/internal/remote/sqlite"
)

var (
	flagDriver   string
	flagDBPath   string
	flagRelayURL string
)

// addStoreFlags registers the remote-store override flags shared by the
// commands that open a store.
func addStoreFlags(fs *pflag.FlagSet) {
	fs.StringVar(&flagDriver, "driver", "", "remote store driver (memory|sqlite|postgres|api)")
	fs.StringVar(&flagDBPath, "db", "", "sqlite database path")
	fs.StringVar(&flagRelayURL, "relay-url", "", "relay base URL for the api driver")
}

func resolveDriver() string {
	if flagDriver != "" {
		return flagDriver
	}
	return config.GetDriver()
}

// setupLogger configures the process-wide slog handler from config.
func setupLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(config.GetLogLevel()) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

// openStore builds the remote store the config (or flags) selects.
func openStore(ctx context.Context, log *slog.Logger) (remote.Store, error) {
	driver := resolveDriver()
	switch driver {
	case config.DriverMemory:
		return memory.New(log), nil

	case config.DriverSQLite:
		path := flagDBPath
		if path == "" {
			var err error
			path, err = config.GetSQLitePath()
			if err != nil {
				return nil, err
			}
		}
		return sqlite.Open(path, log)

	case config.DriverPostgres:
		dsn := config.GetDSN()
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN (HUDDLE_DSN or config.json)")
		}
		return postgres.New(ctx, dsn, log)

	case config.DriverAPI:
		url := flagRelayURL
		if url == "" {
			url = config.GetRelayURL()
		}
		return httpapi.New(url, config.GetRelayToken(), log), nil

	default:
		return nil, fmt.Errorf("unknown remote driver %q", driver)
	}
}

// credentialStorage bridges the identity provider to the auth file.
func credentialStorage() identity.Storage {
	return identity.Storage{
		Load: func() (string, string, error) {
			creds, err := config.LoadAuth()
			if err != nil || creds == nil {
				return "", "", err
			}
			return creds.Token, creds.UserID, nil
		},
		Save: func(token, userID string) error {
			deviceID, err := config.GetDeviceID()
			if err != nil {
				return err
			}
			return config.SaveAuth(&config.AuthCredentials{
				Token:    token,
				UserID:   userID,
				DeviceID: deviceID,
			})
		},
		Clear: config.ClearAuth,
	}
}

// buildEngine assembles and starts a full engine over the configured
// store. The caller owns both and closes the store after the engine.
func buildEngine(ctx context.Context, log *slog.Logger) (*engine.Engine, remote.Store, error) {
	store, err := openStore(ctx, log)
	if err != nil {
		return nil, nil, err
	}

	opts := engine.Options{
		Remote:   store,
		Identity: identity.NewTokenProvider(credentialStorage(), config.GetOperatorUserID()),
		Logger:   log,
	}
	if !config.GetPushEnabled() {
		opts.Notifier = push.Drop{}
	}

	eng, err := engine.New(opts)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	if err := eng.Start(ctx); err != nil {
		// Degraded start is survivable; the TUI surfaces staleness and
		// manual refresh retries.
		log.Warn("engine started degraded", "error", err)
	}
	return eng, store, nil
}
