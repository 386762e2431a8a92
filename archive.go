package treesync

import (
	"archive/zip"
	"fmt"
	"io"
	"sync"
)

// ArchiveEntry is one path-addressed entry of a flat container. Bytes is a
// lazy accessor, read once per access, so unpacking an archive never loads
// every blob into memory up front.
type ArchiveEntry struct {
	// Path is the entry's path relative to the archive root, with forward
	// slashes.
	Path string
	// Bytes reads the entry's content.
	Bytes func() ([]byte, error)
}

// EntriesFromZip exposes a zip archive as a map of lazy entries keyed by
// path. Directory entries are skipped.
func EntriesFromZip(r *zip.Reader) map[string]ArchiveEntry {
	entries := make(map[string]ArchiveEntry, len(r.File))
	for _, file := range r.File {
		if file.FileInfo().IsDir() {
			continue
		}
		file := file
		entries[file.Name] = ArchiveEntry{
			Path: file.Name,
			Bytes: func() ([]byte, error) {
				rc, err := file.Open()
				if err != nil {
					return nil, err
				}
				defer rc.Close()
				return io.ReadAll(rc)
			},
		}
	}
	return entries
}

// Sink receives the entries of an output container. Put may be called from
// concurrent goroutines; Close finalizes the container and must only be
// called after every Put has returned.
type Sink interface {
	Put(path string, content []byte) error
	Close() error
}

// ZipSink writes a zip container to an io.Writer.
type ZipSink struct {
	mu     sync.Mutex
	writer *zip.Writer
}

// NewZipSink creates a zip sink over w. The caller owns w; Close finalizes
// the zip structure but does not close w.
func NewZipSink(w io.Writer) *ZipSink {
	return &ZipSink{writer: zip.NewWriter(w)}
}

func (s *ZipSink) Put(path string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.writer.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive entry %q: %w", path, err)
	}
	if _, err := entry.Write(content); err != nil {
		return fmt.Errorf("writing archive entry %q: %w", path, err)
	}
	return nil
}

func (s *ZipSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}
