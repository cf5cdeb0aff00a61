package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/miokidk/astra-sync/internal/blob"
	"github.com/miokidk/astra-sync/internal/config"
	"github.com/miokidk/astra-sync/internal/remote"
	"github.com/miokidk/astra-sync/internal/session"
	"github.com/miokidk/astra-sync/internal/store"
	"github.com/miokidk/astra-sync/internal/sync"
	"github.com/miokidk/astra-sync/internal/watcher"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "astra-sync",
		Short:   "Board sync daemon for Astra",
		Long:    `A daemon that keeps a local directory of Astra board documents and their assets in sync with a remote multi-device store.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		daemonCmd(),
		syncCmd(),
		statusCmd(),
		pullCmd(),
		migrateCmd(),
		initCmd(),
		loginCmd(),
		logoutCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildEngine wires the stores and coordinator shared by the long-running
// commands. rs may be nil when the remote store is unreachable; the
// coordinator then runs with sync disabled.
func buildEngine(ctx context.Context, cfg *config.Config, sess *session.Manager, rs sync.RemoteStore) (*sync.Coordinator, *store.Store, error) {
	local, err := store.Open(cfg.BoardsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open board store: %w", err)
	}

	bs, err := blob.New(ctx, &cfg.Blob)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure blob store: %w", err)
	}

	state, err := store.NewStateTracker(cfg.BoardsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create state tracker: %w", err)
	}

	assets := sync.NewAssetSynchronizer(local, bs, cfg.Sync.MaxAssetSizeMB)
	coord := sync.NewCoordinator(local, rs, assets, state, sess, sync.Options{
		Debounce:     time.Duration(cfg.Sync.DebounceMs) * time.Millisecond,
		PollInterval: time.Duration(cfg.Sync.PollIntervalS) * time.Second,
	})
	return coord, local, nil
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Start the background sync process",
		Long:  `Starts a daemon that watches the boards directory for changes and keeps it in sync with the remote store. SIGUSR1 triggers an immediate cycle (app-foreground signal).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			stateDir, err := config.GetStateDir()
			if err != nil {
				return err
			}
			sess := session.NewManager(stateDir)
			if err := sess.Watch(); err != nil {
				return err
			}
			defer sess.Stop()
			sessEvents := sess.Events()

			// An unreachable remote store degrades to watch-only mode
			// instead of refusing to start.
			var rs sync.RemoteStore
			if pg, err := remote.New(ctx, &cfg.Database); err != nil {
				slog.Warn("remote store unreachable, sync disabled", "error", err)
			} else {
				rs = pg
				defer pg.Close()
			}

			coord, _, err := buildEngine(ctx, cfg, sess, rs)
			if err != nil {
				return err
			}

			if err := coord.Start(ctx); err != nil {
				return err
			}
			defer coord.Stop()

			w, err := watcher.NewWatcher(cfg.BoardsPath, cfg.IgnorePatterns)
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}
			defer w.Stop()

			// Handle graceful shutdown and the foreground signal
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			fgCh := make(chan os.Signal, 1)
			signal.Notify(fgCh, syscall.SIGUSR1)

			slog.Info("daemon started", "boards", cfg.BoardsPath)
			fmt.Println("Watching boards for changes. Press Ctrl+C to stop.")

			for {
				select {
				case <-sigCh:
					slog.Info("shutting down...")
					return nil

				case <-fgCh:
					coord.NoteForeground()

				case event := <-w.Events():
					slog.Debug("board event", "board", event.ID, "deleted", event.Deleted)
					if event.Deleted {
						coord.NoteBoardDeleted(event.ID)
					} else {
						coord.NoteLocalChange(event.ID)
					}

				case ev := <-sessEvents:
					// The coordinator stops itself on sign-out; restart it
					// when a user signs back in.
					if ev.Kind == session.SignedIn {
						if err := coord.Start(ctx); err != nil {
							slog.Error("failed to restart sync", "error", err)
						}
					}
				}
			}
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "One full pull-then-push cycle, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			stateDir, err := config.GetStateDir()
			if err != nil {
				return err
			}
			sess := session.NewManager(stateDir)

			rs, err := remote.New(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to board store: %w", err)
			}
			defer rs.Close()

			coord, _, err := buildEngine(ctx, cfg, sess, rs)
			if err != nil {
				return err
			}

			if err := coord.RunOnce(ctx); err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			pull, push := coord.Log().Status()
			fmt.Println(pull)
			fmt.Println(push)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection status and sync info",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			stateDir, err := config.GetStateDir()
			if err != nil {
				return err
			}
			sess := session.NewManager(stateDir)
			owner, signedIn := sess.CurrentUserID()

			fmt.Println("=== Astra Sync Status ===")
			if signedIn {
				fmt.Printf("Signed in as: %s\n", owner)
			} else {
				fmt.Println("Signed in as: (nobody)")
			}

			local, err := store.Open(cfg.BoardsPath)
			if err != nil {
				return err
			}
			metas, err := local.ListBoards()
			if err != nil {
				return err
			}
			dirty := 0
			for _, m := range metas {
				if m.IsDirty {
					dirty++
				}
			}
			fmt.Printf("Boards Path: %s\n", cfg.BoardsPath)
			fmt.Printf("Local Boards: %d (%d dirty)\n", len(metas), dirty)

			state, err := store.NewStateTracker(cfg.BoardsPath)
			if err == nil {
				if last := state.LastPull(); !last.IsZero() {
					fmt.Printf("Last Pull: %s\n", last.Format(time.RFC3339))
				}
				if pending := state.PendingDeletions(); len(pending) > 0 {
					fmt.Printf("Pending Deletions: %d\n", len(pending))
				}
			}
			fmt.Println()

			rs, err := remote.New(ctx, &cfg.Database)
			if err != nil {
				fmt.Printf("Remote Status: Disconnected\n")
				fmt.Printf("Error: %v\n", err)
				return nil
			}
			defer rs.Close()

			fmt.Printf("Remote Status: Connected\n")
			fmt.Printf("  Host: %s\n", cfg.Database.Host)
			fmt.Printf("  Database: %s\n", cfg.Database.Database)
			if signedIn {
				status, err := rs.GetStatus(ctx, owner)
				if err != nil {
					return fmt.Errorf("failed to get status: %w", err)
				}
				fmt.Printf("  Remote Boards: %d\n", status.TotalBoards)
				if status.LastUpdateAt != nil {
					fmt.Printf("  Last Update: %s\n", status.LastUpdateAt.Format(time.RFC3339))
				}
			}

			return nil
		},
	}
}

func pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Download all boards from the remote store",
		Long:  `Downloads every remote board and its assets to the local boards directory. Use this to set up a new device.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Create boards directory if needed
			if _, err := os.Stat(cfg.BoardsPath); os.IsNotExist(err) {
				fmt.Printf("Creating boards directory: %s\n", cfg.BoardsPath)
				if err := os.MkdirAll(cfg.BoardsPath, 0755); err != nil {
					return fmt.Errorf("failed to create boards directory: %w", err)
				}
			}

			stateDir, err := config.GetStateDir()
			if err != nil {
				return err
			}
			sess := session.NewManager(stateDir)

			rs, err := remote.New(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to board store: %w", err)
			}
			defer rs.Close()

			coord, _, err := buildEngine(ctx, cfg, sess, rs)
			if err != nil {
				return err
			}

			if err := coord.Bootstrap(ctx); err != nil {
				return fmt.Errorf("pull failed: %w", err)
			}

			fmt.Println("Pull completed successfully.")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run remote store migrations",
	}

	migrationsDir := ""
	statusOnly := false
	cmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "migrations directory")
	cmd.Flags().BoolVar(&statusOnly, "status", false, "print migration status instead of applying")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		rs, err := remote.New(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to board store: %w", err)
		}
		defer rs.Close()

		// Resolve migrations directory
		if !filepath.IsAbs(migrationsDir) {
			// Try relative to executable first
			exe, _ := os.Executable()
			exeDir := filepath.Dir(exe)
			if _, err := os.Stat(filepath.Join(exeDir, migrationsDir)); err == nil {
				migrationsDir = filepath.Join(exeDir, migrationsDir)
			} else {
				// Try relative to current directory
				cwd, _ := os.Getwd()
				migrationsDir = filepath.Join(cwd, migrationsDir)
			}
		}

		if statusOnly {
			return rs.MigrationStatus(migrationsDir)
		}

		if err := rs.RunMigrations(ctx, migrationsDir); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		fmt.Println("Migrations completed successfully.")
		return nil
	}

	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup to create config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			fmt.Println("=== Astra Sync Setup ===")
			fmt.Println()

			cfg := config.DefaultConfig()

			fmt.Print("Boards directory: ")
			cfg.BoardsPath = readLine(reader)
			if _, err := os.Stat(cfg.BoardsPath); os.IsNotExist(err) {
				return fmt.Errorf("boards directory does not exist: %s", cfg.BoardsPath)
			}

			fmt.Println("\nDatabase Configuration:")
			fmt.Print("  Host: ")
			cfg.Database.Host = readLine(reader)
			fmt.Print("  User: ")
			cfg.Database.User = readLine(reader)
			fmt.Print("  Database name: ")
			cfg.Database.Database = readLine(reader)
			if cfg.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
			// Filled from the environment at load time
			cfg.Database.Password = "${ASTRA_DB_PASSWORD}"

			fmt.Println("\nBlob Store Configuration:")
			fmt.Print("  Bucket: ")
			cfg.Blob.Bucket = readLine(reader)
			fmt.Print("  Endpoint (empty for AWS): ")
			cfg.Blob.Endpoint = readLine(reader)
			fmt.Print("  Access key: ")
			cfg.Blob.AccessKey = readLine(reader)
			cfg.Blob.SecretKey = "${ASTRA_BLOB_SECRET_KEY}"

			content, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}

			configDir, err := config.GetStateDir()
			if err != nil {
				return err
			}
			configPath := filepath.Join(configDir, "config.yaml")
			if err := os.WriteFile(configPath, content, 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("\nConfig file written to: %s\n", configPath)
			fmt.Println("\nIMPORTANT: set ASTRA_DB_PASSWORD and ASTRA_BLOB_SECRET_KEY in the environment.")
			fmt.Println("To run migrations, run: astra-sync migrate")
			fmt.Println("To sign in, run: astra-sync login <user-id>")
			fmt.Println("To start syncing, run: astra-sync daemon")

			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Record the signed-in user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir, err := config.GetStateDir()
			if err != nil {
				return err
			}
			sess := session.NewManager(stateDir)
			if err := sess.SignIn(args[0]); err != nil {
				return err
			}
			fmt.Printf("Signed in as %s.\n", args[0])
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir, err := config.GetStateDir()
			if err != nil {
				return err
			}
			sess := session.NewManager(stateDir)
			if err := sess.SignOut(); err != nil {
				return err
			}
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
