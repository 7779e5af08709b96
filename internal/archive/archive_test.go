package archive

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirStore(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := s.Put(ctx, "budget-export-2025-03-14.json", []byte(`{"operations":[]}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.Equal(t, "budget-export-2025-03-14.json", BaseName(uri))

	byURI, err := s.Fetch(ctx, uri)
	require.NoError(t, err)
	byName, err := s.Fetch(ctx, "budget-export-2025-03-14.json")
	require.NoError(t, err)
	assert.Equal(t, byURI, byName)

	_, err = s.Put(ctx, "../escape.json", nil)
	assert.Error(t, err)
	_, err = s.Fetch(ctx, "missing.json")
	assert.Error(t, err)
}

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		object  string
		wantErr bool
	}{
		{uri: "gs://bucket/backups/a.json", bucket: "bucket", object: "backups/a.json"},
		{uri: "gs://bucket", wantErr: true},
		{uri: "gs:///obj", wantErr: true},
		{uri: "s3://bucket/obj", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.object, object)
		})
	}
}

type stubStore struct {
	fetched []string
}

func (s *stubStore) Put(_ context.Context, name string, _ []byte) (string, error) {
	return "stub://" + name, nil
}

func (s *stubStore) Fetch(_ context.Context, uri string) ([]byte, error) {
	s.fetched = append(s.fetched, uri)
	return []byte(uri), nil
}

func TestArchiveRoutesByScheme(t *testing.T) {
	dir, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	primary := &stubStore{}
	a := New(primary, nil, dir)
	ctx := context.Background()

	uri, err := a.Put(ctx, "x.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "stub://x.json", uri)

	_, err = a.Fetch(ctx, "x.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.json"}, primary.fetched)

	fileURI, err := dir.Put(ctx, "y.json", []byte("y"))
	require.NoError(t, err)
	data, err := a.Fetch(ctx, fileURI)
	require.NoError(t, err)
	assert.Equal(t, "y", string(data))

	_, err = a.Fetch(ctx, "gs://bucket/obj")
	assert.True(t, errors.Is(err, ErrUnsupportedURI), "no GCS store configured")
}

func TestGCSObjectName(t *testing.T) {
	s := &GCSStore{bucket: "b", prefix: "backups"}
	assert.Equal(t, "backups/a.json", s.objectName("a.json"))
	s.prefix = ""
	assert.Equal(t, "a.json", s.objectName("a.json"))
}
