// Package ops backs up and restores the Wellnest SQLite database as a
// .tar.gz archive holding a consistent snapshot and a manifest.
package ops

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DatabaseFile = "wellnest.db"
	ManifestFile = "manifest.json"
)

var ErrDigestMismatch = errors.New("restored database does not match the manifest digest")

// Snapshotter writes a consistent copy of the live database to path.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

type Manifest struct {
	Format    int       `json:"format"`
	CreatedAt time.Time `json:"created_at"`
	Database  string    `json:"database"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
}

// Backup snapshots the database and packs it with its manifest into
// archivePath.
func Backup(ctx context.Context, db Snapshotter, archivePath string, now time.Time) (Manifest, error) {
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	if archivePath == "" || archivePath == "." {
		return Manifest{}, fmt.Errorf("archive path is required")
	}
	work, err := os.MkdirTemp("", "wellnest-backup-")
	if err != nil {
		return Manifest{}, err
	}
	defer os.RemoveAll(work)

	dbPath := filepath.Join(work, DatabaseFile)
	if err := db.Snapshot(ctx, dbPath); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: %w", err)
	}
	size, digest, err := fileDigest(dbPath)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{Format: 1, CreatedAt: now.UTC(), Database: DatabaseFile, Size: size, SHA256: digest}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(work, ManifestFile), b, 0o644); err != nil {
		return Manifest{}, err
	}
	if err := packDir(work, archivePath); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Restore unpacks an archive into targetDir and verifies the database
// against the manifest.
func Restore(archivePath, targetDir string) (Manifest, error) {
	if err := unpack(archivePath, targetDir); err != nil {
		return Manifest{}, err
	}
	b, err := os.ReadFile(filepath.Join(targetDir, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	name, err := sanitizeArchiveRelPath(m.Database)
	if err != nil {
		return Manifest{}, err
	}
	_, digest, err := fileDigest(filepath.Join(targetDir, name))
	if err != nil {
		return Manifest{}, err
	}
	if digest != m.SHA256 {
		return Manifest{}, fmt.Errorf("%w: want %s, got %s", ErrDigestMismatch, m.SHA256, digest)
	}
	return m, nil
}

func fileDigest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func packDir(srcDir, archivePath string) error {
	srcDir = filepath.Clean(srcDir)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return err
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == srcDir {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}

func unpack(archivePath, targetDir string) error {
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	targetDir = filepath.Clean(strings.TrimSpace(targetDir))
	if archivePath == "" || targetDir == "" {
		return fmt.Errorf("archive path and target dir are required")
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		rel, err := sanitizeArchiveRelPath(hdr.Name)
		if err != nil {
			return err
		}
		outPath := filepath.Join(targetDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(outPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return err
			}
			dst, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(dst, tr); err != nil {
				_ = dst.Close()
				return err
			}
			if err := dst.Close(); err != nil {
				return err
			}
		default:
			// Links and devices are never written by Backup.
		}
	}
}

func sanitizeArchiveRelPath(name string) (string, error) {
	name = filepath.Clean(strings.TrimSpace(name))
	if name == "." || name == "" {
		return "", fmt.Errorf("invalid archive entry path")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid absolute archive entry path: %s", name)
	}
	if strings.HasPrefix(name, ".."+string(filepath.Separator)) || name == ".." {
		return "", fmt.Errorf("invalid archive entry path traversal: %s", name)
	}
	return name, nil
}
