package orchestrator

import (
	"bufio"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/vpnagg/aggregator/internal/xerrors"
	"github.com/vpnagg/aggregator/pkg/model"
	"github.com/vpnagg/aggregator/pkg/source/store"
)

var runLogJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultRunsLogCap = 10 * 1024 * 1024 // 10 MiB

// AppendRunRecord appends one JSONL line to runs.log, then prunes the file
// from the front (oldest records first) if it now exceeds maxBytes.
func AppendRunRecord(dir string, record *model.RunRecord, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = defaultRunsLogCap
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.New(xerrors.KindIO, "creating output directory for runs log", err)
	}
	path := filepath.Join(dir, "runs.log")

	line, err := runLogJSON.Marshal(record)
	if err != nil {
		return xerrors.New(xerrors.KindIO, "marshaling run record", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return xerrors.New(xerrors.KindIO, "opening runs log", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return xerrors.New(xerrors.KindIO, "appending to runs log", err)
	}
	if err := f.Close(); err != nil {
		return xerrors.New(xerrors.KindIO, "closing runs log", err)
	}

	return prunable(path, maxBytes)
}

func prunable(path string, maxBytes int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return xerrors.New(xerrors.KindIO, "statting runs log", err)
	}
	if info.Size() <= maxBytes {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return xerrors.New(xerrors.KindIO, "opening runs log for prune", err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.New(xerrors.KindIO, "scanning runs log for prune", err)
	}

	var kept [][]byte
	var total int64
	for i := len(lines) - 1; i >= 0; i-- {
		total += int64(len(lines[i])) + 1
		kept = append(kept, lines[i])
		if total >= maxBytes {
			break
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	var buf []byte
	for _, l := range kept {
		buf = append(buf, l...)
		buf = append(buf, '\n')
	}
	return store.AtomicWrite(path, buf)
}
