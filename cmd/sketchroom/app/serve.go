package app

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sketchroom/sketchroom/pkg/api"
	"github.com/sketchroom/sketchroom/pkg/logger"
	"github.com/sketchroom/sketchroom/pkg/session"
	"github.com/sketchroom/sketchroom/pkg/storage/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Sketchroom whiteboard server",
	Long:  `Starts the whiteboard server and listens for HTTP and socket connections.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Ensure server is shutdown gracefully on Ctrl+C.
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Viper resolution lets SKETCHROOM_* environment variables override
		// the flag defaults.
		host := viper.GetString("host")
		port := viper.GetInt("port")
		dataDir := viper.GetString("data-dir")
		evictionDelay := viper.GetDuration("eviction-delay")

		if err := os.MkdirAll(dataDir, 0750); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		// Only one process may own the data directory; a second sqlite writer
		// would fight over the database.
		lock := flock.New(filepath.Join(dataDir, "sketchroom.lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to lock data directory: %w", err)
		}
		if !locked {
			return fmt.Errorf("data directory %s is in use by another process", dataDir)
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				logger.Warnf("failed to release data directory lock: %v", err)
			}
		}()

		store, err := sqlite.Open(ctx, dataDir)
		if err != nil {
			return fmt.Errorf("failed to open element store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warnf("failed to close element store: %v", err)
			}
		}()

		registry := session.NewRegistry(store, evictionDelay)
		defer registry.Stop()

		address := fmt.Sprintf("%s:%d", host, port)
		return api.Serve(ctx, address, registry, store)
	},
}

func init() {
	serveCmd.Flags().String("host", "0.0.0.0", "Host address to bind the server to")
	serveCmd.Flags().Int("port", 3000, "Port to bind the server to")
	serveCmd.Flags().String("data-dir", "./data", "Directory holding the whiteboard database")
	serveCmd.Flags().Duration("eviction-delay", session.DefaultEvictionDelay,
		"How long an empty session stays in memory before being released")

	for _, flag := range []string{"host", "port", "data-dir", "eviction-delay"} {
		if err := viper.BindPFlag(flag, serveCmd.Flags().Lookup(flag)); err != nil {
			logger.Errorf("Error binding %s flag: %v", flag, err)
		}
	}
}
