package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/spatialrec/internal/session"
)

type mapBlobs map[string][]byte

func (m mapBlobs) Blob(ctx context.Context, id string) ([]byte, error) {
	data, ok := m[id]
	if !ok {
		return nil, errors.New("missing blob")
	}
	return data, nil
}

func TestDirExporter_WritesAndAvoidsOverwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := NewDirExporter(fs, "/downloads")

	p1, err := e.Export(context.Background(), []byte("one"), "take.wav")
	require.NoError(t, err)
	assert.Equal(t, "/downloads/take.wav", p1)

	p2, err := e.Export(context.Background(), []byte("two"), "take.wav")
	require.NoError(t, err)
	assert.Equal(t, "/downloads/take (1).wav", p2)

	data, err := afero.ReadFile(fs, p1)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
}

func TestDirExporter_StripsDirectories(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := NewDirExporter(fs, "/downloads")

	path, err := e.Export(context.Background(), []byte("x"), "../../etc/passwd.wav")
	require.NoError(t, err)
	assert.Equal(t, "/downloads/passwd.wav", path)
}

func TestExportAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := NewDirExporter(fs, "/out")

	recs := []*session.Recording{
		{ID: "1", Filename: "a.wav", Data: []byte("a")},
		{ID: "2", Filename: "b.wav"},
		{ID: "3", Filename: "c.wav"},
	}
	blobs := mapBlobs{"2": []byte("b")}

	var calls []string
	var failed []string
	start := time.Now()
	err := ExportAll(context.Background(), e, recs, blobs, 20*time.Millisecond, func(done, total int, filename string, err error) {
		assert.Equal(t, 3, total)
		calls = append(calls, filename)
		if err != nil {
			failed = append(failed, filename)
		}
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "c.wav")
	assert.Equal(t, []string{"a.wav", "b.wav", "c.wav"}, calls)
	assert.Equal(t, []string{"c.wav"}, failed)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)

	data, err := afero.ReadFile(fs, "/out/b.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)
}

func TestExportAll_Cancelled(t *testing.T) {
	e := NewDirExporter(afero.NewMemMapFs(), "/out")
	recs := []*session.Recording{
		{ID: "1", Filename: "a.wav", Data: []byte("a")},
		{ID: "2", Filename: "b.wav", Data: []byte("b")},
	}

	ctx, cancel := context.WithCancel(context.Background())
	exported := 0
	err := ExportAll(ctx, e, recs, nil, time.Hour, func(done, total int, filename string, err error) {
		exported++
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, exported)
}
