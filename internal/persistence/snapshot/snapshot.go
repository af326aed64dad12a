package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"remansim/internal/sim/runner"
)

const (
	Version  = 1
	FileName = "result.json.zst"
)

// Header is the first line of a result file. It is enough to list runs
// without decoding the body.
type Header struct {
	Version    int    `json:"version"`
	RunID      string `json:"run_id"`
	Scenario   string `json:"scenario"`
	Seed       uint64 `json:"seed"`
	Population int    `json:"population"`
	Horizon    int    `json:"horizon"`
	Reman      bool   `json:"reman"`
	Days       int    `json:"days"`
	Digest     string `json:"digest"`
}

type ResultV1 struct {
	Header Header        `json:"header"`
	Result runner.Result `json:"result"`
}

func New(res runner.Result) ResultV1 {
	m := res.Scenario.Main
	return ResultV1{
		Header: Header{
			Version:    Version,
			RunID:      res.RunID,
			Scenario:   res.Scenario.Name,
			Seed:       m.Seed,
			Population: m.Population,
			Horizon:    m.SimulationLength,
			Reman:      m.EnableReman,
			Days:       res.Days,
			Digest:     res.Digest,
		},
		Result: res,
	}
}

func PathFor(runDir string) string { return filepath.Join(runDir, FileName) }

// WriteResult writes the header line followed by the full result as one JSON
// document, zstd-compressed.
func WriteResult(path string, snap ResultV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadResult(path string) (ResultV1, error) {
	var snap ResultV1
	br, closeFn, err := open(path)
	if err != nil {
		return snap, err
	}
	defer closeFn()

	// The body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported result version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the first line.
func ReadHeader(path string) (Header, error) {
	var h Header
	br, closeFn, err := open(path)
	if err != nil {
		return h, err
	}
	defer closeFn()

	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

func open(path string) (*bufio.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return bufio.NewReaderSize(dec, 256*1024), func() {
		dec.Close()
		_ = f.Close()
	}, nil
}
