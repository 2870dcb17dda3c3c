package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"wellnest/internal/store"
)

type DrillReport struct {
	Archive       string   `json:"archive"`
	RestoredDir   string   `json:"restored_dir"`
	Manifest      Manifest `json:"manifest"`
	SchemaVersion int64    `json:"schema_version"`
}

// Drill proves a backup can be restored: it archives the live database,
// unpacks the archive, verifies the digest and opens the restored copy.
func Drill(ctx context.Context, db Snapshotter, workDir string, now time.Time) (DrillReport, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return DrillReport{}, err
	}
	ts := now.UTC().Format("20060102T150405Z")
	r := DrillReport{
		Archive:     filepath.Join(workDir, "wellnest-drill-"+ts+".tar.gz"),
		RestoredDir: filepath.Join(workDir, "wellnest-drill-restore-"+ts),
	}
	if _, err := Backup(ctx, db, r.Archive, now); err != nil {
		return DrillReport{}, err
	}
	m, err := Restore(r.Archive, r.RestoredDir)
	if err != nil {
		return DrillReport{}, err
	}
	r.Manifest = m

	restored, err := store.Connect(ctx, store.DriverSQLite, filepath.Join(r.RestoredDir, m.Database))
	if err != nil {
		return DrillReport{}, fmt.Errorf("open restored database: %w", err)
	}
	defer restored.Close()
	if r.SchemaVersion, err = restored.SchemaVersion(ctx); err != nil {
		return DrillReport{}, fmt.Errorf("restored schema: %w", err)
	}
	return r, nil
}
