package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"budgetsync/internal/log"
)

// DirStore keeps objects as files in one directory.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve backup dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &DirStore{root: abs}, nil
}

// Put writes data to a temp file and renames it into place.
func (s *DirStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	target := filepath.Join(s.root, name)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}

	slog.DebugContext(ctx, "Archive object written",
		log.FieldComponent, log.ComponentArchive,
		log.FieldObject, target,
		"bytes", len(data))
	return schemeFile + target, nil
}

// Fetch reads a file:// URI or a bare name inside the directory.
func (s *DirStore) Fetch(_ context.Context, uri string) ([]byte, error) {
	p := uri
	if strings.HasPrefix(uri, schemeFile) {
		p = strings.TrimPrefix(uri, schemeFile)
	} else {
		if err := validName(uri); err != nil {
			return nil, err
		}
		p = filepath.Join(s.root, uri)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return data, nil
}
