package core

// delivery.go serves completed artifacts. It knows nothing about HTTP; the
// web layer picks one of three modes per request and calls the matching
// copy function:
//
//   - CopyGzip:  whole artifact, gzip-compressed on the fly
//   - CopyRange: bytes [start, end] of the uncompressed artifact
//   - CopyFull:  whole artifact, uncompressed, with a known length

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Artifact is an open, completed export file.
// The caller must Close it.
type Artifact struct {
	ID      string
	Name    string // Download file name
	Size    int64
	ModTime time.Time

	file *os.File
}

// Close releases the underlying file.
func (a *Artifact) Close() error {
	return a.file.Close()
}

// OpenArtifact returns the artifact of a completed job.
// Errors: ErrNotFound (unknown job), ErrNotReady (not completed),
// ErrArtifactMissing (file removed after completion).
func (s *Service) OpenArtifact(id string) (*Artifact, error) {
	job, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: export is %s", ErrNotReady, job.Status)
	}

	f, err := os.Open(s.ArtifactPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrArtifactMissing
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	return &Artifact{
		ID:      id,
		Name:    "export_" + id + ArtifactExt,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		file:    f,
	}, nil
}

// ByteRange is an inclusive byte range within an artifact.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the range for a Content-Range header.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseByteRange parses a single-range "bytes=" header value against size.
// Supported forms: "start-end", "start-" and the suffix form "-n".
// An end past the file is clamped. ok is false when the header is not a
// single byte range and should be ignored; ErrRangeNotSatisfiable is
// returned for well-formed ranges outside the file.
func ParseByteRange(header string, size int64) (r ByteRange, ok bool, err error) {
	rangeSpec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(rangeSpec, ",") {
		return ByteRange{}, false, nil
	}
	startStr, endStr, found := strings.Cut(strings.TrimSpace(rangeSpec), "-")
	if !found {
		return ByteRange{}, false, nil
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n < 0 {
			return ByteRange{}, false, nil
		}
		if n == 0 || size == 0 {
			return ByteRange{}, true, ErrRangeNotSatisfiable
		}
		n = min(n, size)
		return ByteRange{Start: size - n, End: size - 1}, true, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, false, nil
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return ByteRange{}, false, nil
		}
		end = min(end, size-1)
	}
	if start >= size {
		return ByteRange{}, true, ErrRangeNotSatisfiable
	}
	return ByteRange{Start: start, End: end}, true, nil
}

// CopyFull streams the whole artifact to dst.
func (a *Artifact) CopyFull(dst io.Writer) (int64, error) {
	return io.Copy(dst, io.NewSectionReader(a.file, 0, a.Size))
}

// CopyRange streams bytes [r.Start, r.End] to dst.
func (a *Artifact) CopyRange(dst io.Writer, r ByteRange) (int64, error) {
	return io.Copy(dst, io.NewSectionReader(a.file, r.Start, r.Length()))
}

// CopyGzip streams the whole artifact to dst through a gzip encoder.
func (a *Artifact) CopyGzip(dst io.Writer) (int64, error) {
	gz := gzip.NewWriter(dst)
	gz.Name = a.Name
	gz.ModTime = a.ModTime

	n, err := io.Copy(gz, io.NewSectionReader(a.file, 0, a.Size))
	if err != nil {
		gz.Close()
		return n, err
	}
	return n, gz.Close()
}
