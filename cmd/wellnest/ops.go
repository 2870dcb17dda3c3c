package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wellnest/internal/activity"
	"wellnest/internal/group"
	"wellnest/internal/ops"
)

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.load()
			if err != nil {
				return err
			}
			st, err := e.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()
			version, err := st.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			e.logger.Info("schema migrated", zap.Int64("version", version))
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newBackupCmd(flags *rootFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent database snapshot to a .tar.gz archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.load()
			if err != nil {
				return err
			}
			st, err := e.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()

			now := time.Now()
			if out == "" {
				out = filepath.Join("backups", "wellnest-"+now.UTC().Format("20060102T150405Z")+".tar.gz")
			}
			m, err := ops.Backup(cmd.Context(), st, out, now)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			e.logger.Info("backup written", zap.String("archive", out), zap.String("sha256", m.SHA256))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output archive path (.tar.gz)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var archive, target string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Unpack and verify a backup archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if archive == "" {
				return fmt.Errorf("--archive is required")
			}
			m, err := ops.Restore(archive, target)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"database": filepath.Join(target, m.Database),
				"manifest": m,
			})
		},
	}
	cmd.Flags().StringVar(&archive, "archive", "", "input backup archive (.tar.gz)")
	cmd.Flags().StringVar(&target, "target-dir", "data-restored", "restore target directory")
	return cmd
}

func newDrillCmd(flags *rootFlags) *cobra.Command {
	var workDir string
	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Back up, restore and reopen the database to prove recovery works",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.load()
			if err != nil {
				return err
			}
			st, err := e.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()
			r, err := ops.Drill(cmd.Context(), st, workDir, time.Now())
			if err != nil {
				return fmt.Errorf("drill failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().StringVar(&workDir, "work-dir", os.TempDir(), "workspace for drill artifacts")
	return cmd
}

func newStatsCmd(flags *rootFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded activity over recent days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be positive")
			}
			e, err := flags.load()
			if err != nil {
				return err
			}
			st, err := e.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := activity.NewService(st, group.NewService(st, nil, e.logger), e.cfg.Report.ActivityLimit, e.logger)
			now := time.Now()
			stats, err := svc.Summarize(cmd.Context(), now.AddDate(0, 0, -days), now)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days to summarize")
	return cmd
}
