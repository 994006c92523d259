// Package export writes recordings out as downloadable WAV files.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/spatialrec/internal/session"
)

// DefaultSpacing separates consecutive exports in ExportAll.
const DefaultSpacing = 500 * time.Millisecond

// Exporter hands a finished file to the user.
type Exporter interface {
	TriggerDownload(ctx context.Context, data []byte, filename string) error
}

// BlobLoader fetches recording data that is not held in memory.
type BlobLoader interface {
	Blob(ctx context.Context, id string) ([]byte, error)
}

// ProgressFunc is called after each export attempt.
type ProgressFunc func(done, total int, filename string, err error)

// DirExporter writes files into a download directory.
type DirExporter struct {
	fs  afero.Fs
	dir string
}

var _ Exporter = (*DirExporter)(nil)

// NewDirExporter creates an exporter writing into dir.
func NewDirExporter(fs afero.Fs, dir string) *DirExporter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &DirExporter{fs: fs, dir: dir}
}

// Dir returns the download directory.
func (e *DirExporter) Dir() string {
	return e.dir
}

// TriggerDownload implements Exporter.
func (e *DirExporter) TriggerDownload(ctx context.Context, data []byte, filename string) error {
	_, err := e.Export(ctx, data, filename)
	return err
}

// Export writes data under filename and returns the path written. An
// existing file is never overwritten; a numeric suffix is added instead.
func (e *DirExporter) Export(ctx context.Context, data []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("invalid export filename %q", filename)
	}
	if err := e.fs.MkdirAll(e.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory %s: %w", e.dir, err)
	}

	path, err := e.freePath(name)
	if err != nil {
		return "", err
	}
	if err := afero.WriteFile(e.fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	slog.Info("Recording exported", "path", path, "size", len(data))
	return path, nil
}

func (e *DirExporter) freePath(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(e.dir, candidate)
		if _, err := e.fs.Stat(path); os.IsNotExist(err) {
			return path, nil
		} else if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("no free filename for %s in %s", name, e.dir)
}

// ExportAll exports recordings one after another, waiting spacing between
// consecutive files. Failures do not stop the run; they are returned
// together once every recording has been attempted.
func ExportAll(ctx context.Context, e Exporter, recs []*session.Recording, blobs BlobLoader, spacing time.Duration, progress ProgressFunc) error {
	var result *multierror.Error
	for i, rec := range recs {
		if i > 0 && spacing > 0 {
			t := time.NewTimer(spacing)
			select {
			case <-ctx.Done():
				t.Stop()
				return multierror.Append(result, ctx.Err()).ErrorOrNil()
			case <-t.C:
			}
		}

		err := exportOne(ctx, e, rec, blobs)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", rec.Filename, err))
		}
		if progress != nil {
			progress(i+1, len(recs), rec.Filename, err)
		}
	}
	return result.ErrorOrNil()
}

func exportOne(ctx context.Context, e Exporter, rec *session.Recording, blobs BlobLoader) error {
	data := rec.Data
	if data == nil {
		if blobs == nil {
			return fmt.Errorf("recording %s has no data", rec.ID)
		}
		var err error
		data, err = blobs.Blob(ctx, rec.ID)
		if err != nil {
			return err
		}
	}
	return e.TriggerDownload(ctx, data, rec.Filename)
}
