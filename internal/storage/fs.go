package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/spatialrec/internal/session"
)

const (
	metadataDir = "metadata"
	blobDir     = "blobs"
)

// FSStore keeps metadata as JSON files and blobs as WAV files under a
// root directory.
type FSStore struct {
	fs   afero.Fs
	root string
	mu   sync.RWMutex
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates the directory layout under root.
func NewFSStore(fs afero.Fs, root string) (*FSStore, error) {
	for _, dir := range []string{filepath.Join(root, metadataDir), filepath.Join(root, blobDir)} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}
	return &FSStore{fs: fs, root: root}, nil
}

func (s *FSStore) metadataPath(id string) string {
	return filepath.Join(s.root, metadataDir, id+".json")
}

func (s *FSStore) blobPath(id string) string {
	return filepath.Join(s.root, blobDir, id+".wav")
}

// writeFile writes through a temporary file so readers never see a
// partial file.
func (s *FSStore) writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		s.fs.Remove(tmp)
		return err
	}
	return nil
}

func (s *FSStore) SaveBlob(ctx context.Context, id string, data []byte) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeFile(s.blobPath(id), data); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", id, err)
	}
	return nil
}

func (s *FSStore) SaveMetadata(ctx context.Context, rec *session.Recording) error {
	if err := validID(rec.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata %s: %w", rec.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeFile(s.metadataPath(rec.ID), data); err != nil {
		return fmt.Errorf("failed to write metadata %s: %w", rec.ID, err)
	}
	return nil
}

func (s *FSStore) Blob(ctx context.Context, id string) ([]byte, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := afero.ReadFile(s.fs, s.blobPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return data, nil
}

func (s *FSStore) Metadata(ctx context.Context, id string) (*session.Recording, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMetadata(s.metadataPath(id))
}

func (s *FSStore) readMetadata(path string) (*session.Recording, error) {
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata %s: %w", path, err)
	}
	var rec session.Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode metadata %s: %w", path, err)
	}
	return &rec, nil
}

func (s *FSStore) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	var result *multierror.Error
	for _, path := range []string{s.metadataPath(id), s.blobPath(id)} {
		err := s.fs.Remove(path)
		switch {
		case err == nil:
			found = true
		case errors.Is(err, os.ErrNotExist):
		default:
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("failed to delete recording %s: %w", id, err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (s *FSStore) ListAll(ctx context.Context) ([]*session.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := afero.ReadDir(s.fs, filepath.Join(s.root, metadataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	recs := make([]*session.Recording, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := s.readMetadata(filepath.Join(s.root, metadataDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sortByTimestamp(recs)
	return recs, nil
}

func (s *FSStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for _, dir := range []string{metadataDir, blobDir} {
		path := filepath.Join(s.root, dir)
		if err := s.fs.RemoveAll(path); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := s.fs.MkdirAll(path, 0755); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *FSStore) Close() error {
	return nil
}
