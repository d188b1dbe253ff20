package archive

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// directory stores each record as a file.
type directory struct {
	root string
}

func openDirectory(root string) (*directory, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%q is not a directory", root)
	}
	return &directory{root: root}, nil
}

// directoryWriter has no commit step: records written so far stay in place.
type directoryWriter struct {
	root string
}

// createDirectory removes the records of an existing directory at root, so
// a rewritten part only holds the new ones.
func createDirectory(root string) (*directoryWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(root, entry.Name())); err != nil {
			return nil, errors.Wrapf(err, "removing stale record %q", entry.Name())
		}
	}
	return &directoryWriter{root: root}, nil
}

func (d *directory) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notExist(name)
	}
	return data, err
}

func (d *directory) Names() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *directory) Close() error { return nil }

func (d *directoryWriter) Write(name string, data []byte) error {
	return os.WriteFile(filepath.Join(d.root, name), data, 0o644)
}

func (d *directoryWriter) Close(bool) error { return nil }
