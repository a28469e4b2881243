package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/jrsteele09/go-image-resizer/bus"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/jrsteele09/go-image-resizer/session"
	"github.com/jrsteele09/go-image-resizer/surface"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var imagesFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background session process",
	Long: `Run the broadcast bus, the session manager and the popup, auth and history
surfaces until interrupted.

The session is validated when the process starts, refreshed before it expires
and re-validated whenever another resizer process changes the session file.`,
	Args: cobra.NoArgs,
	RunE: runBackground,
}

func init() {
	runCmd.Flags().StringVar(&imagesFile, "images", "", "JSON file listing the page images offered to the popup")
}

func runBackground(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := loadImages(imagesFile)
	if err != nil {
		return err
	}

	hub := bus.NewHub(bus.WithLogger(loggerFor("bus")))
	a, err := newApp(ctx, hub)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })

	managerConn, err := hub.Connect(session.ConnName)
	if err != nil {
		return err
	}
	watcher, err := hub.Connect(string(bus.KindOther) + "-log")
	if err != nil {
		return err
	}
	g.Go(func() error { return a.manager.Listen(ctx, managerConn) })
	g.Go(func() error { return a.manager.Run(ctx) })
	g.Go(func() error {
		return a.store.Watch(ctx, func() {
			a.logger.Debug().Msg("session file changed")
			a.manager.Validate(ctx)
		})
	})
	g.Go(func() error { return logEvents(ctx, watcher) })

	opts := []surface.Option{surface.WithLogger(a.logger)}
	popup, err := surface.NewPopup(ctx, hub, a.store, a.manager, source, opts...)
	if err != nil {
		return err
	}
	authPage, err := surface.NewAuthPage(ctx, hub, a.store, a.manager, opts...)
	if err != nil {
		return err
	}
	historyPage, err := surface.NewHistoryPage(ctx, hub, a.store, a.manager, a.history, opts...)
	if err != nil {
		return err
	}
	g.Go(func() error { return popup.Run(ctx) })
	g.Go(func() error { return authPage.Run(ctx) })
	g.Go(func() error { return historyPage.Run(ctx) })

	if _, err := popup.ScanImages(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("scanning images")
	}
	view := popup.View()
	a.logger.Info().
		Bool("signed_in", view.SignedIn).
		Str("user_id", view.Session.UserID).
		Int("images", len(view.Images)).
		Msg("background process started")

	return g.Wait()
}

func logEvents(ctx context.Context, conn *bus.Conn) error {
	logger := loggerFor("events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-conn.Events():
			if !ok {
				return nil
			}
			switch e := event.(type) {
			case bus.SessionEstablished:
				logger.Info().Str("user_id", e.Session.UserID).Str("email", e.Session.Email).Msg("signed in")
			case bus.SessionCleared:
				logger.Info().Str("reason", e.Reason).Msg("signed out")
			case bus.LogoutRequested:
				logger.Debug().Msg("logout requested")
			}
		}
	}
}

func loadImages(path string) (surface.ImageSource, error) {
	if path == "" {
		return surface.StaticImages(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var images surface.StaticImages
	if err := json.Unmarshal(data, &images); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return images, nil
}
