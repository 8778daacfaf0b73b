package tofu

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileStore persists records as a TOML document:
//
//	[[host]]
//	host = "example.org"
//	fingerprint = "sha256:AB:CD:..."
//	first_seen = 2026-10-18T09:00:00Z
//
// A missing file loads as an empty set. Saves replace the file
// atomically.
type FileStore struct {
	Path string
}

var _ Persister = (*FileStore)(nil)

type knownHostsFile struct {
	Hosts []Record `toml:"host"`
}

func (f *FileStore) Load() ([]Record, error) {
	var doc knownHostsFile
	if _, err := toml.DecodeFile(f.Path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("known hosts parse failed (%s): %w", f.Path, err)
	}
	for i, r := range doc.Hosts {
		if r.Host == "" {
			return nil, fmt.Errorf("known hosts entry %d in %s has no host", i, f.Path)
		}
	}
	return doc.Hosts, nil
}

func (f *FileStore) Save(records []Record) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(knownHostsFile{Hosts: records}); err != nil {
		return fmt.Errorf("known hosts encode failed: %w", err)
	}
	dir, file := filepath.Split(f.Path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	w, err := os.CreateTemp(dir, "."+file+".*")
	if err != nil {
		return err
	}
	tmp := w.Name()
	_, err = w.Write(buf.Bytes())
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, f.Path)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("known hosts save failed (%s): %w", f.Path, err)
	}
	return nil
}
