// Package storage persists recordings: metadata and WAV blobs, keyed by
// recording ID.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/spatialrec/internal/config"
	"github.com/audiolibrelab/spatialrec/internal/session"
)

// ErrNotFound is returned for unknown recording IDs.
var ErrNotFound = errors.New("recording not found")

// Store is a recording repository.
type Store interface {
	session.Persistence

	Blob(ctx context.Context, id string) ([]byte, error)
	Metadata(ctx context.Context, id string) (*session.Recording, error)
	Delete(ctx context.Context, id string) error
	// ListAll returns every stored recording, oldest first, without blobs.
	ListAll(ctx context.Context) ([]*session.Recording, error)
	Clear(ctx context.Context) error
	Close() error
}

// Open creates the store selected by storage.backend. It returns a nil
// Store for the "none" backend.
func Open(ctx context.Context, cfg *config.Config, fs afero.Fs) (Store, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "fs", "":
		if fs == nil {
			fs = afero.NewOsFs()
		}
		slog.Debug("Using filesystem store", "directory", cfg.Storage.Directory)
		return NewFSStore(fs, cfg.Storage.Directory)
	case "redis":
		slog.Debug("Using redis store", "addr", cfg.Storage.RedisAddr, "db", cfg.Storage.RedisDB)
		return NewRedisStore(ctx, RedisOptions{
			Addr:      cfg.Storage.RedisAddr,
			Password:  cfg.Storage.RedisPassword,
			DB:        cfg.Storage.RedisDB,
			KeyPrefix: cfg.Storage.KeyPrefix,
		})
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
}

func sortByTimestamp(recs []*session.Recording) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\:`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid recording id %q", id)
	}
	return nil
}
