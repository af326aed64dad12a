package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"remansim/internal/sim/runner"
)

// DefaultSegmentDays is how many simulated days share one tick log file.
const DefaultSegmentDays = 365

// JSONLZstdWriter appends JSON lines to zstd-compressed files, starting a new
// file every segmentDays simulated days.
type JSONLZstdWriter struct {
	baseDir     string
	prefix      string
	segmentDays int

	mu     sync.Mutex
	curSeg int
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, segmentDays int) *JSONLZstdWriter {
	if segmentDays <= 0 {
		segmentDays = DefaultSegmentDays
	}
	return &JSONLZstdWriter{
		baseDir:     baseDir,
		prefix:      prefix,
		segmentDays: segmentDays,
		curSeg:      -1,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends v to the file covering day. Days start at 1.
func (w *JSONLZstdWriter) Write(day int, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg := w.segmentStart(day)
	if seg != w.curSeg {
		if err := w.rotateLocked(seg); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) segmentStart(day int) int {
	if day < 1 {
		day = 1
	}
	return (day-1)/w.segmentDays*w.segmentDays + 1
}

func (w *JSONLZstdWriter) rotateLocked(seg int) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForSegment(seg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curSeg = seg
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		if err := w.f.Close(); err1 == nil {
			err1 = err
		}
		w.f = nil
	}
	w.w = nil
	w.curSeg = -1
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(seg int) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%06d.jsonl.zst", w.prefix, seg))
}

// TickLogger writes one JSONL entry per simulated day (compressed). It is a
// runner.Sink.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(runDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(TicksDir(runDir), "ticks", DefaultSegmentDays)}
}

func (l *TickLogger) WriteTick(rec runner.TickRecord) error { return l.w.Write(rec.Day, rec) }
func (l *TickLogger) Close() error                          { return l.w.Close() }

func TicksDir(runDir string) string { return filepath.Join(runDir, "ticks") }

// ListTickFiles returns the tick log files of dir in day order.
func ListTickFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "ticks-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	// Zero-padded start days sort lexically.
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadTicks streams every record of the tick log in dir to fn, in file order.
// It stops at the first error returned by fn.
func ReadTicks(dir string, fn func(runner.TickRecord) error) error {
	files, err := ListTickFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no tick files found in %s", dir)
	}
	for _, path := range files {
		if err := readFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

func readFile(path string, fn func(runner.TickRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var rec runner.TickRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}
