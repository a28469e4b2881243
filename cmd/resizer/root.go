package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jrsteele09/go-image-resizer/backend"
	"github.com/jrsteele09/go-image-resizer/bus"
	"github.com/jrsteele09/go-image-resizer/credentials/filestore"
	"github.com/jrsteele09/go-image-resizer/history"
	"github.com/jrsteele09/go-image-resizer/identity"
	"github.com/jrsteele09/go-image-resizer/identity/oidcprovider"
	"github.com/jrsteele09/go-image-resizer/internal/config"
	"github.com/jrsteele09/go-image-resizer/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	dataDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "resizer",
	Short: "Resize web images through the image resizer backend",
	Long: `resizer signs in with the configured OpenID Connect provider, keeps the session
valid and sends resize requests to the backend.

"resizer run" is the long-lived background process. The other commands open,
act and exit; every process shares the session file in the data directory.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(level).With().Timestamp().Logger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Directory holding the session and history files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd, signUpCmd, loginCmd, logoutCmd, switchAccountCmd, statusCmd, resizeCmd, uploadCmd, historyCmd)
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".image-resizer"
	}
	return filepath.Join(dir, "image-resizer")
}

// app is the client wiring shared by every command.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	hub     *bus.Hub
	store   *filestore.Store
	history *history.FileStore
	api     *backend.Client
	manager *session.Manager
}

// newApp connects to the identity provider and opens the local stores. The session file and
// the provider grant are shared with every other process using the data directory. hub may
// be nil for one-shot commands, which publish nothing.
func newApp(ctx context.Context, hub *bus.Hub) (*app, error) {
	cfg := config.New()
	logger := log.Logger

	store, err := filestore.New(dataDir, filestore.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	hist, err := history.NewFileStore(dataDir, history.WithLimit(cfg.GetHistoryLimit()))
	if err != nil {
		return nil, err
	}

	api := backend.NewClient(cfg.GetAPIBaseURL(), cfg.GetRequestTimeout(), backend.WithLogger(logger))
	tokens, err := oidcprovider.NewFileTokenStore(dataDir)
	if err != nil {
		return nil, err
	}
	provider, err := oidcprovider.New(ctx, cfg, oidcprovider.WithLogger(logger), oidcprovider.WithTokenStore(tokens))
	if err != nil {
		return nil, err
	}
	idClient := identity.NewClient(provider, api, cfg, identity.WithLogger(logger))

	opts := []session.Option{session.WithLogger(logger)}
	if hub != nil {
		opts = append(opts, session.WithHub(hub))
	}
	manager, err := session.NewManager(store, idClient, api, cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		hub:     hub,
		store:   store,
		history: hist,
		api:     api,
		manager: manager,
	}, nil
}

func loggerFor(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
