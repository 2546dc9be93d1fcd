package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// FileSink writes one file per record into a directory.
type FileSink struct {
	dir      string
	compress bool
}

// NewPlain writes {dir}/{id}.json.
func NewPlain(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// NewGzip writes gzip-compressed {dir}/{id}.json.gz.
func NewGzip(dir string) *FileSink {
	return &FileSink{dir: dir, compress: true}
}

func (s *FileSink) Name() string {
	if s.compress {
		return "targz"
	}
	return "plain"
}

// Path returns the file a record with id is written to.
func (s *FileSink) Path(id string) string {
	if s.compress {
		return filepath.Join(s.dir, id+".json.gz")
	}
	return filepath.Join(s.dir, id+".json")
}

// Persist replaces the record's file with payload. The bytes go to a
// temporary file in the same directory first, so an existing file is never
// left truncated.
func (s *FileSink) Persist(ctx context.Context, id string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return &Error{Sink: s.Name(), Kind: KindIO, ID: id, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, id+".*.tmp")
	if err != nil {
		return &Error{Sink: s.Name(), Kind: KindIO, ID: id, Err: err}
	}

	kind, err := s.write(tmp, id, payload)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		kind, err = KindIO, cerr
	}
	if err == nil {
		kind = KindIO
		if err = os.Chmod(tmp.Name(), 0o644); err == nil {
			err = os.Rename(tmp.Name(), s.Path(id))
		}
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return &Error{Sink: s.Name(), Kind: kind, ID: id, Err: err}
	}
	return nil
}

// write encodes payload into f and classifies any failure.
func (s *FileSink) write(f io.Writer, id string, payload []byte) (Kind, error) {
	if !s.compress {
		_, err := f.Write(payload)
		return KindIO, err
	}

	fw := &trackingWriter{w: f}
	zw := gzip.NewWriter(fw)
	zw.Name = id + ".json"
	_, err := zw.Write(payload)
	if err == nil {
		err = zw.Close()
	}
	switch {
	case err == nil:
		return "", nil
	case fw.err != nil:
		return KindIO, err
	}
	return KindCompression, err
}

// trackingWriter remembers the first error of the underlying writer.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}

func (s *FileSink) Close() error { return nil }

// Count returns the number of record files in the directory.
func (s *FileSink) Count(ctx context.Context) (int, error) {
	pattern := "*.json"
	if s.compress {
		pattern = "*.json.gz"
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, pattern))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// Check reports whether the target directory is still usable.
func (s *FileSink) Check(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}
