// Package tracker follows growing log files by path, detecting rotation
// (inode change) and truncation (size shrink) between polls.
package tracker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/V4T54L/logrelay/internal/domain"
)

// FileSource is one watched file and its tailing state.
type FileSource struct {
	Name      string
	Path      string
	Parser    domain.Parser
	Formatter domain.Formatter

	file   *os.File
	inode  uint64
	size   int64
	offset int64
}

// NewFileSource creates a closed source; call Tracker.Open to start tailing.
func NewFileSource(name, path string, parser domain.Parser, formatter domain.Formatter) *FileSource {
	return &FileSource{
		Name:      name,
		Path:      path,
		Parser:    parser,
		Formatter: formatter,
		size:      -1,
	}
}

// IsOpen reports whether the source currently holds a file handle.
func (s *FileSource) IsOpen() bool { return s.file != nil }

// Offset returns the current read position.
func (s *FileSource) Offset() int64 { return s.offset }

// Inode returns the last inode seen at the source path.
func (s *FileSource) Inode() uint64 { return s.inode }

// Tracker polls and reads FileSources. It holds no per-source state itself.
type Tracker struct {
	logger *slog.Logger
}

// New creates a Tracker.
func New(logger *slog.Logger) *Tracker {
	return &Tracker{logger: logger.With("component", "file_tracker")}
}

// Open records the file's identity and opens it positioned at end-of-file so
// history present at startup is not re-ingested. A missing or unreadable file
// is not an error; the source stays closed and Poll will pick it up.
func (t *Tracker) Open(src *FileSource) {
	t.stat(src)
	if src.inode == 0 {
		t.logger.Debug("source not available at startup", "source", src.Name, "path", src.Path)
		return
	}
	t.open(src, true)
}

// Poll reports whether the file at the source path was replaced since the
// previous poll, or exists while the source is still closed. A size shrink on
// the same inode rewinds the read position to zero but is not reported as a
// change.
func (t *Tracker) Poll(src *FileSource) bool {
	var st unix.Stat_t
	if err := unix.Stat(src.Path, &st); err != nil {
		t.logger.Debug("failed to stat source", "source", src.Name, "path", src.Path, "error", err)
		return false
	}

	changed := src.file == nil
	if st.Ino != src.inode {
		changed = true
		src.inode = st.Ino
	}

	if st.Size < src.size && !changed {
		t.logger.Info("source truncated, rewinding", "source", src.Name, "old_size", src.size, "new_size", st.Size)
		if src.file != nil {
			if _, err := src.file.Seek(0, io.SeekStart); err != nil {
				t.logger.Warn("failed to rewind truncated source", "source", src.Name, "error", err)
			}
		}
		src.offset = 0
	}
	src.size = st.Size

	return changed
}

// Read returns at most maxBytes of new data, or nil when nothing is available.
func (t *Tracker) Read(src *FileSource, maxBytes int) []byte {
	if src.file == nil || maxBytes <= 0 {
		return nil
	}

	buf := make([]byte, maxBytes)
	n, err := src.file.Read(buf)
	if n > 0 {
		src.offset += int64(n)
		if src.offset > src.size {
			src.size = src.offset
		}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		t.logger.Debug("failed to read source", "source", src.Name, "error", err)
	}
	if n == 0 {
		return nil
	}
	return buf[:n]
}

// Reopen closes the handle and opens the file currently at the source path,
// reading it from the start.
func (t *Tracker) Reopen(src *FileSource) {
	t.Close(src)
	t.open(src, false)
}

// Close releases the handle and resets the read position.
func (t *Tracker) Close(src *FileSource) {
	if src.file != nil {
		if err := src.file.Close(); err != nil {
			t.logger.Debug("failed to close source", "source", src.Name, "error", err)
		}
		src.file = nil
	}
	src.offset = 0
}

func (t *Tracker) open(src *FileSource, seekEnd bool) {
	f, err := os.OpenFile(src.Path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		t.logger.Debug("failed to open source", "source", src.Name, "path", src.Path, "error", err)
		return
	}

	st, err := fstat(f)
	if err != nil {
		f.Close()
		t.logger.Debug("failed to stat opened source", "source", src.Name, "error", err)
		return
	}

	var pos int64
	if seekEnd {
		pos, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			t.logger.Warn("failed to seek source to end", "source", src.Name, "error", fmt.Errorf("seek: %w", err))
			return
		}
	}

	src.file = f
	src.inode = st.Ino
	src.size = st.Size
	src.offset = pos
	t.logger.Debug("opened source", "source", src.Name, "path", src.Path, "offset", pos)
}

func (t *Tracker) stat(src *FileSource) {
	var st unix.Stat_t
	if err := unix.Stat(src.Path, &st); err != nil {
		return
	}
	src.inode = st.Ino
	src.size = st.Size
}

// fstat stats an open handle without f.Fd, which would switch it to blocking mode.
func fstat(f *os.File) (unix.Stat_t, error) {
	var st unix.Stat_t
	rc, err := f.SyscallConn()
	if err != nil {
		return st, err
	}
	var statErr error
	if err := rc.Control(func(fd uintptr) {
		statErr = unix.Fstat(int(fd), &st)
	}); err != nil {
		return st, err
	}
	return st, statErr
}
