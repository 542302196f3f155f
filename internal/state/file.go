package state

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	logx "ipwatch/pkg/logx"
)

// fileStore keeps the record as one JSON document.
//
// Save writes a sibling temp file, fsyncs it, renames it over the target and
// fsyncs the directory, so readers see either the old or the new document.
type fileStore struct {
	path string
	log  logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("state.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{path: path, log: log}, nil
}

func (s *fileStore) Load(ctx context.Context) (Record, error) {
	_ = ctx
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}.Clone(), nil
	}
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(b)
}

func (s *fileStore) Save(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Driver: "file", Op: "save", Err: err}
	}
	b, err := encodeRecord(r)
	if err != nil {
		return &PersistenceError{Driver: "file", Op: "encode", Err: err}
	}
	if err := writeFileAtomic(s.path, b, 0o600); err != nil {
		return &PersistenceError{Driver: "file", Op: "save", Err: err}
	}
	return nil
}

func (s *fileStore) Close() error { return nil }

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	committed = true

	// Persist the rename itself. Not all platforms allow syncing a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
