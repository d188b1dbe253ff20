package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// records is an in-memory container, used to serve packed archives once
// they are loaded.
type records map[string][]byte

func (r records) Read(name string) ([]byte, error) {
	data, found := r[name]
	if !found {
		return nil, notExist(name)
	}
	return data, nil
}

func (r records) Names() ([]string, error) {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r records) Close() error { return nil }

// zipReader reads entries lazily from a zip file.
type zipReader struct {
	*zip.ReadCloser
	entries map[string]*zip.File
}

func openZip(path string) (*zipReader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	z := &zipReader{ReadCloser: rc, entries: make(map[string]*zip.File, len(rc.File))}
	for _, f := range rc.File {
		z.entries[f.Name] = f
	}
	return z, nil
}

func (z *zipReader) Read(name string) ([]byte, error) {
	f, found := z.entries[name]
	if !found {
		return nil, notExist(name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (z *zipReader) Names() ([]string, error) {
	names := make([]string, 0, len(z.entries))
	for name := range z.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// decompressor wraps the compressed stream of a tar kind.
func decompressor(r io.Reader, kind Kind) (io.Reader, func(), error) {
	switch kind {
	case TarGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { _ = gz.Close() }, nil
	case TarZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	case TarLZ4:
		return lz4.NewReader(r), func() {}, nil
	case TarS2:
		return s2.NewReader(r), func() {}, nil
	}
	return nil, nil, errors.Errorf("archive kind %q is not a compressed tar", kind)
}

// compressor wraps the output stream of a tar kind. Closing it flushes the
// compressed stream, not the underlying writer.
func compressor(w io.Writer, kind Kind) (io.WriteCloser, error) {
	switch kind {
	case TarGzip:
		return gzip.NewWriter(w), nil
	case TarZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case TarLZ4:
		return lz4.NewWriter(w), nil
	case TarS2:
		return s2.NewWriter(w), nil
	}
	return nil, errors.Errorf("archive kind %q is not a compressed tar", kind)
}

// openTar loads all records of a compressed tar in memory: tar has no index
// to seek into.
func openTar(path string, kind Kind) (records, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	stream, release, err := decompressor(f, kind)
	if err != nil {
		return nil, err
	}
	defer release()

	recs := make(records)
	tr := tar.NewReader(stream)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading tar header")
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, errors.Wrapf(err, "reading record %q", header.Name)
		}
		recs[header.Name] = data
	}
}

// packedWriter buffers records and writes the whole archive file on a
// committing Close.
type packedWriter struct {
	path  string
	kind  Kind
	names []string
	recs  records
}

func createPacked(path string, kind Kind) (*packedWriter, error) {
	return &packedWriter{path: path, kind: kind, recs: make(records)}, nil
}

func (p *packedWriter) Write(name string, data []byte) error {
	if _, found := p.recs[name]; !found {
		p.names = append(p.names, name)
	}
	p.recs[name] = bytes.Clone(data)
	return nil
}

func (p *packedWriter) Close(commit bool) (err error) {
	if !commit {
		return nil
	}
	f, err := os.Create(p.path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(p.path)
		}
	}()
	if p.kind == Zip {
		return p.writeZip(f)
	}
	return p.writeTar(f)
}

func (p *packedWriter) writeZip(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, name := range p.names {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
		if err != nil {
			return err
		}
		if _, err = fw.Write(p.recs[name]); err != nil {
			return errors.Wrapf(err, "writing record %q", name)
		}
	}
	return zw.Close()
}

func (p *packedWriter) writeTar(w io.Writer) error {
	cw, err := compressor(w, p.kind)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)
	now := time.Now()
	for _, name := range p.names {
		data := p.recs[name]
		header := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), ModTime: now, Typeflag: tar.TypeReg}
		if err = tw.WriteHeader(header); err != nil {
			return errors.Wrapf(err, "writing header of record %q", name)
		}
		if _, err = tw.Write(data); err != nil {
			return errors.Wrapf(err, "writing record %q", name)
		}
	}
	if err = tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}
