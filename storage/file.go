package storage

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Encoding selects the on-disk format of a file store.
type Encoding int

const (
	JSON Encoding = iota
	Binary          // gob
)

// FileFactory keeps each key as a file under dir, with rotated
// revision copies named key~1 (newest old revision) .. key~(n-1).
type FileFactory struct {
	dir       string
	revisions int
	enc       Encoding
}

func NewFileFactory(dir string, revisions int, enc Encoding) (*FileFactory, error) {
	if revisions < 1 {
		revisions = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &FileFactory{dir: dir, revisions: revisions, enc: enc}, nil
}

func (f *FileFactory) Create(name string) Storage {
	return &fileStorage{
		path:      filepath.Join(f.dir, name),
		revisions: f.revisions,
		enc:       f.enc,
	}
}

type fileStorage struct {
	path      string
	revisions int
	enc       Encoding
}

func (s *fileStorage) revPath(i int) string {
	return fmt.Sprintf("%s~%d", s.path, i)
}

func (s *fileStorage) Load(dst any) (bool, error) {
	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: open %s: %w", s.path, err)
	}
	defer file.Close()

	if s.enc == Binary {
		err = gob.NewDecoder(file).Decode(dst)
	} else {
		err = json.NewDecoder(file).Decode(dst)
	}
	if err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", s.path, err)
	}
	return true, nil
}

func (s *fileStorage) Put(src any) error {
	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", tmp, err)
	}
	if s.enc == Binary {
		err = gob.NewEncoder(file).Encode(src)
	} else {
		enc := json.NewEncoder(file)
		enc.SetIndent("", "  ")
		err = enc.Encode(src)
	}
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: write %s: %w", tmp, err)
	}

	s.rotate()
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: commit %s: %w", s.path, err)
	}
	return nil
}

// rotate shifts the revision chain by one, dropping the oldest. The
// live key is hard-linked into the chain rather than renamed, so it
// stays present until the new revision replaces it; a crash between
// rotate and the final rename loses at most the newest write.
func (s *fileStorage) rotate() {
	if s.revisions < 2 {
		return
	}
	_ = os.Remove(s.revPath(s.revisions - 1))
	for i := s.revisions - 1; i > 1; i-- {
		_ = os.Rename(s.revPath(i-1), s.revPath(i))
	}
	_ = os.Link(s.path, s.revPath(1))
}

func (s *fileStorage) Erase() error {
	for i := 1; i < s.revisions; i++ {
		_ = os.Remove(s.revPath(i))
	}
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
