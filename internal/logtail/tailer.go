// Package logtail follows an append-only JSONL file by byte offset.
//
// Offsets, not filesystem notifications, decide what is new: notifications
// may be dropped or coalesced, so every poll compares the file size with
// the bytes already consumed and reads only the difference.
package logtail

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// LoadAll reads every line of the file at path. A missing file is treated
// as empty history. The returned size is the number of bytes read.
func LoadAll(path string) ([]string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("read log: %w", err)
	}
	return splitLines(data), int64(len(data)), nil
}

// ReadIncrement returns the bytes in [knownOffset, size) and the new offset.
// When the file has not grown past knownOffset it returns no bytes and
// knownOffset unchanged.
func ReadIncrement(path string, knownOffset int64) ([]byte, int64, error) {
	data, next, _, err := readIncrement(path, knownOffset)
	return data, next, err
}

// readIncrement also returns the size observed while reading. A missing
// file reports knownOffset as its size.
func readIncrement(path string, knownOffset int64) ([]byte, int64, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, knownOffset, knownOffset, nil
		}
		return nil, knownOffset, 0, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, knownOffset, 0, fmt.Errorf("stat log: %w", err)
	}
	size := info.Size()
	if size <= knownOffset {
		return nil, knownOffset, size, nil
	}

	buf := make([]byte, size-knownOffset)
	n, err := file.ReadAt(buf, knownOffset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, knownOffset, size, fmt.Errorf("read log increment: %w", err)
	}
	return buf[:n], knownOffset + int64(n), size, nil
}

func splitLines(data []byte) []string {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Tailer tracks how much of one log file has been consumed.
type Tailer struct {
	path string

	mu      sync.Mutex
	offset  int64
	loaded  bool
	pending []byte

	// shrunk is set while the file is smaller than offset; truncated holds
	// an unreported shrink.
	shrunk    bool
	truncated bool
}

func NewTailer(path string) *Tailer {
	return &Tailer{path: path}
}

func (t *Tailer) Path() string { return t.path }

func (t *Tailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

func (t *Tailer) Loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// Load performs the initial full read and positions the offset at the end
// of what was read.
func (t *Tailer) Load() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines, size, err := LoadAll(t.path)
	if err != nil {
		return nil, err
	}
	if size > t.offset {
		t.offset = size
	}
	t.loaded = true
	t.pending = nil
	return lines, nil
}

// Synchronize handles the log file appearing after the watcher started.
// Without a prior Load the existing content is history, so the offset jumps
// to the current size; after a Load it is a no-op and the new content is
// picked up by the next Poll. It reports whether the offset moved.
func (t *Tailer) Synchronize() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loaded {
		return false, nil
	}
	info, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat log: %w", err)
	}
	t.loaded = true
	if info.Size() <= t.offset {
		return false, nil
	}
	t.offset = info.Size()
	return true, nil
}

// Poll returns the bytes appended since the last call.
func (t *Tailer) Poll() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pollLocked()
}

func (t *Tailer) pollLocked() ([]byte, error) {
	data, next, size, err := readIncrement(t.path, t.offset)
	if err != nil {
		return nil, err
	}
	switch {
	case size < t.offset && !t.shrunk:
		t.shrunk = true
		t.truncated = true
	case size >= t.offset:
		t.shrunk = false
	}
	t.offset = next
	return data, nil
}

// Truncated reports, once per occurrence, that the last poll found the file
// smaller than the consumed offset. A later shrink, after the file grew
// back past the offset, is reported again.
func (t *Tailer) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	reported := t.truncated
	t.truncated = false
	return reported
}

// PollLines is Poll split into lines. A trailing fragment with no newline
// is held back until it is completed, unless it already is a valid JSON
// document on its own.
func (t *Tailer) PollLines() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, err := t.pollLocked()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	buf := append(t.pending, data...)
	t.pending = nil

	cut := bytes.LastIndexByte(buf, '\n')
	rest := buf[cut+1:]
	if len(bytes.TrimSpace(rest)) > 0 && !json.Valid(bytes.TrimSpace(rest)) {
		t.pending = append([]byte(nil), rest...)
		buf = buf[:cut+1]
	}
	return splitLines(buf), nil
}
