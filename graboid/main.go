package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/graboid/graboid/internal/config"
	"github.com/barnettlynn/graboid/internal/domain"
	"github.com/barnettlynn/graboid/internal/store"
)

const configFileName = "config.yaml"

var (
	configPath string
	verbose    bool
	logFormat  string

	cfg *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "graboid",
		Short: "Record a MIFARE Classic card and replay it onto another",
		Long: `graboid records every block of a MIFARE Classic card (Mini, 1K, 2K, 4K)
using a key chain of sector A/B keys, keeps the dump encrypted in a working
directory, and replays it onto a blank card.

Typical flow:
  graboid import-keys keys.txt
  graboid record
  graboid replay`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			path := configPath
			if path == "" {
				var err error
				if path, err = defaultConfigPath(); err != nil {
					return fmt.Errorf("resolve config path failed: %w", err)
				}
			}
			slog.Debug("using config", "path", path)

			loaded, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: config.yaml next to the executable or in the working directory)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(
		newStatusCmd(),
		newImportKeysCmd(),
		newExportKeysCmd(),
		newClearKeysCmd(),
		newClearTagCmd(),
		newRecordCmd(),
		newReplayCmd(),
		newTestKeysCmd(),
		newFuseACLCmd(),
		newUIDCmd(),
	)
	return root
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}
}

// stateLogger reports every state machine change.
type stateLogger struct{}

func (*stateLogger) OnStateChanged(s domain.State) {
	slog.Debug("state changed", "state", s.String())
}

// openMachine opens the encrypted store and restores the state machine.
func openMachine() (*domain.Machine, error) {
	_, m, err := openSession()
	return m, err
}

func openSession() (*store.Store, *domain.Machine, error) {
	password, err := getPassword(cfg.Security.PasswordEnv)
	if err != nil {
		return nil, nil, err
	}
	defer zeroBytes(password)

	st, err := store.Open(password, cfg.Storage.WorkDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	m, err := domain.New(st)
	if err != nil {
		return nil, nil, err
	}
	m.Register(&stateLogger{})
	return st, m, nil
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), configFileName)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	// Fallback for `go run`, where the executable is placed in a temp directory.
	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	cwdConfigPath := filepath.Join(cwd, configFileName)
	if fileExists(cwdConfigPath) {
		return cwdConfigPath, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
