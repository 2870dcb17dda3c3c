// Command wellnest runs the habit tracking service and its operator tasks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wellnest/internal/config"
	"wellnest/internal/logging"
	"wellnest/internal/store"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

type rootFlags struct {
	configPath string
	configSet  bool
	envFiles   []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:          "wellnest",
		Short:        "Classroom habit tracking service",
		Version:      version,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML config file (default $WELLNEST_CONFIG, read after env files)")
	pf.StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, ".env files loaded before the config")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		flags.configSet = pf.Changed("config")
	}

	root.AddCommand(
		newServeCmd(&flags),
		newMigrateCmd(&flags),
		newBackupCmd(&flags),
		newRestoreCmd(),
		newDrillCmd(&flags),
		newStatsCmd(&flags),
	)
	return root
}

// env is what every subcommand needs before doing real work.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func (f *rootFlags) load() (*env, error) {
	if err := config.LoadDotEnv(f.envFiles...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	path := f.configPath
	if !f.configSet {
		path = os.Getenv("WELLNEST_CONFIG")
	}
	cfg, err := config.Load(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

// open connects to the configured database. Migrations run only when migrate
// is true.
func (e *env) open(ctx context.Context, migrate bool) (*store.Store, error) {
	if migrate {
		return store.Open(ctx, e.cfg.Storage.Driver, e.cfg.Storage.DSN)
	}
	return store.Connect(ctx, e.cfg.Storage.Driver, e.cfg.Storage.DSN)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
