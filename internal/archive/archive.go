// Package archive stores exported budget documents outside the sync path,
// on local disk or in a Google Cloud Storage bucket.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	schemeGCS  = "gs://"
	schemeFile = "file://"
)

var ErrUnsupportedURI = errors.New("unsupported archive uri")

// Store puts objects by name and fetches them back by the URI Put returned
// or by bare name.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (uri string, err error)
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

var (
	_ Store = (*DirStore)(nil)
	_ Store = (*GCSStore)(nil)
	_ Store = (*Archive)(nil)
)

// Archive writes to a primary store and fetches from whichever store owns
// the URI scheme.
type Archive struct {
	primary Store
	schemes map[string]Store
}

// New builds an archive writing to primary. gcs and dir may be nil; they
// serve gs:// and file:// URIs respectively.
func New(primary Store, gcs *GCSStore, dir *DirStore) *Archive {
	a := &Archive{primary: primary, schemes: map[string]Store{}}
	if gcs != nil {
		a.schemes[schemeGCS] = gcs
	}
	if dir != nil {
		a.schemes[schemeFile] = dir
	}
	return a
}

func (a *Archive) Put(ctx context.Context, name string, data []byte) (string, error) {
	if a.primary == nil {
		return "", errors.New("archive has no primary store")
	}
	return a.primary.Put(ctx, name, data)
}

func (a *Archive) Fetch(ctx context.Context, uri string) ([]byte, error) {
	for scheme, store := range a.schemes {
		if strings.HasPrefix(uri, scheme) {
			return store.Fetch(ctx, uri)
		}
	}
	if strings.Contains(uri, "://") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURI, uri)
	}
	if a.primary == nil {
		return nil, errors.New("archive has no primary store")
	}
	return a.primary.Fetch(ctx, uri)
}

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, schemeGCS) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, schemeGCS), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// BaseName returns the object name at the end of a URI.
func BaseName(uri string) string {
	for _, scheme := range []string{schemeGCS, schemeFile} {
		uri = strings.TrimPrefix(uri, scheme)
	}
	return path.Base(uri)
}

func validName(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid object name %q", name)
	}
	return nil
}
