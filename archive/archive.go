// Package archive gives scoped access to containers of named records: a plain
// directory, a packed archive file, or a SQLite database.
//
// Containers are only reachable inside the callback given to Read or Write,
// and are closed on every exit path of it.
package archive

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrNotExist is returned (wrapped) by Reader.Read for missing records.
var ErrNotExist = fs.ErrNotExist

// Kind of container.
type Kind string

const (
	Directory Kind = ""
	Zip       Kind = "zip"
	TarGzip   Kind = "tar.gz"
	TarZstd   Kind = "tar.zst"
	TarLZ4    Kind = "tar.lz4"
	TarS2     Kind = "tar.s2"
	SQLite    Kind = "sqlite"
)

// Kinds lists all supported container kinds.
var Kinds = []Kind{Directory, Zip, TarGzip, TarZstd, TarLZ4, TarS2, SQLite}

// ParseKind validates a kind name, as found in a dataset specification.
func ParseKind(name string) (Kind, error) {
	kind := Kind(strings.TrimPrefix(name, "."))
	if !slices.Contains(Kinds, kind) {
		return "", errors.Errorf("unknown archive kind %q, valid kinds are %q", name, Kinds)
	}
	return kind, nil
}

// Extension returns the file extension of the kind, including the dot, or ""
// for directories.
func (k Kind) Extension() string {
	if k == Directory {
		return ""
	}
	return "." + string(k)
}

// Path returns path with the kind's extension appended if it is missing.
func (k Kind) Path(path string) string {
	if ext := k.Extension(); !strings.HasSuffix(path, ext) {
		return path + ext
	}
	return path
}

// Reader reads named records from an open container.
type Reader interface {
	// Read returns the content of record name. Missing records yield an error
	// for which errors.Is(err, ErrNotExist) holds.
	Read(name string) ([]byte, error)

	// Names lists the records in the container, sorted.
	Names() ([]string, error)
}

// Writer writes named records into an open container.
type Writer interface {
	// Write stores data as record name, replacing any previous content.
	Write(name string, data []byte) error
}

type readCloser interface {
	Reader
	Close() error
}

// writeCommitter is closed with commit=false when the callback failed, in
// which case nothing should be left behind.
type writeCommitter interface {
	Writer
	Close(commit bool) error
}

// Read opens the container at path, calls fn with it and closes it.
func Read(path string, kind Kind, fn func(Reader) error) (err error) {
	path = kind.Path(path)
	var r readCloser
	switch kind {
	case Directory:
		r, err = openDirectory(path)
	case Zip:
		r, err = openZip(path)
	case TarGzip, TarZstd, TarLZ4, TarS2:
		r, err = openTar(path, kind)
	case SQLite:
		r, err = openSQLite(path)
	default:
		err = errors.Errorf("unknown archive kind %q", kind)
	}
	if err != nil {
		return errors.WithMessagef(err, "opening %q for reading", path)
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "closing %q", path)
		}
	}()
	return fn(r)
}

// Write creates the container at path, and any missing parent directory,
// calls fn with it and closes it. An existing container is replaced: packed
// files are recreated, and the records of directories and SQLite files are
// removed first. If fn fails or panics, packed
// containers are removed and SQLite transactions rolled back.
func Write(path string, kind Kind, fn func(Writer) error) (err error) {
	path = kind.Path(path)
	if kind != Directory {
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrapf(err, "creating directory of %q", path)
		}
	}
	var w writeCommitter
	switch kind {
	case Directory:
		w, err = createDirectory(path)
	case Zip, TarGzip, TarZstd, TarLZ4, TarS2:
		w, err = createPacked(path, kind)
	case SQLite:
		w, err = createSQLite(path)
	default:
		err = errors.Errorf("unknown archive kind %q", kind)
	}
	if err != nil {
		return errors.WithMessagef(err, "opening %q for writing", path)
	}
	committed := false
	defer func() {
		closeErr := w.Close(committed)
		if closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "closing %q", path)
		}
		if !committed {
			klog.V(1).Infof("archive %q not committed", path)
		}
	}()
	if err = fn(w); err != nil {
		return err
	}
	committed = true
	return nil
}

// Exists reports whether a container of the given kind exists at path.
func Exists(path string, kind Kind) bool {
	info, err := os.Stat(kind.Path(path))
	if err != nil {
		return false
	}
	return info.IsDir() == (kind == Directory)
}

func notExist(name string) error {
	return errors.Wrapf(ErrNotExist, "record %q", name)
}
