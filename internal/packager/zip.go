// Package packager writes generated projects into downloadable zip
// archives under a spool directory.
package packager

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dappfactory/orderflow/internal/generator"
	"github.com/dappfactory/orderflow/pkg/logger"
)

// ZipPackager packages file sets into zip archives on local disk. The
// archive location is an opaque path consumed only through Read.
type ZipPackager struct {
	spoolDir string
	log      *logger.Logger
}

// NewZipPackager creates the spool directory if needed.
func NewZipPackager(spoolDir string, log *logger.Logger) (*ZipPackager, error) {
	spoolDir = strings.TrimSpace(spoolDir)
	if spoolDir == "" {
		spoolDir = filepath.Join(os.TempDir(), "orderflow-packages")
	}
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("packager")
	}
	return &ZipPackager{spoolDir: spoolDir, log: log}, nil
}

// Package writes the archive and returns its location and size.
func (p *ZipPackager) Package(ctx context.Context, orderID, projectName string, files []generator.File, manifest string) (string, int64, error) {
	if len(files) == 0 {
		return "", 0, fmt.Errorf("no files to package")
	}

	location := filepath.Join(p.spoolDir, orderID+".zip")
	out, err := os.Create(location)
	if err != nil {
		return "", 0, fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	root := sanitizeName(projectName)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			zw.Close()
			os.Remove(location)
			return "", 0, err
		}
		w, err := zw.Create(filepath.ToSlash(filepath.Join(root, file.Path)))
		if err != nil {
			zw.Close()
			return "", 0, fmt.Errorf("add %s: %w", file.Path, err)
		}
		if _, err := w.Write([]byte(file.Content)); err != nil {
			zw.Close()
			return "", 0, fmt.Errorf("write %s: %w", file.Path, err)
		}
	}

	if manifest != "" {
		w, err := zw.Create(filepath.ToSlash(filepath.Join(root, "package.json")))
		if err != nil {
			zw.Close()
			return "", 0, fmt.Errorf("add manifest: %w", err)
		}
		if _, err := w.Write([]byte(manifest)); err != nil {
			zw.Close()
			return "", 0, fmt.Errorf("write manifest: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return "", 0, fmt.Errorf("finalize archive: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("stat archive: %w", err)
	}

	p.log.WithField("order_id", orderID).
		WithField("files", len(files)).
		WithField("bytes", info.Size()).
		Info("package written")
	return location, info.Size(), nil
}

// Locate returns the canonical archive location for an order, failing if
// no archive was ever written for it.
func (p *ZipPackager) Locate(orderID string) (string, error) {
	location := filepath.Join(p.spoolDir, orderID+".zip")
	if _, err := os.Stat(location); err != nil {
		return "", fmt.Errorf("locate package: %w", err)
	}
	return location, nil
}

// Read returns the packaged bytes for a previously written archive.
func (p *ZipPackager) Read(_ context.Context, location string) ([]byte, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	return data, nil
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return "project"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}
