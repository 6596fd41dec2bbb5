// Package journal keeps an append-only record of execution reports and
// verification results as compressed JSON lines.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	KindExecution    = "execution"
	KindVerification = "verification"
	KindScan         = "scan"
)

type Entry struct {
	Time time.Time `json:"time"`
	Kind string    `json:"kind"`
	// Key is the id of the script, spec or template the entry is about.
	Key  string `json:"key,omitempty"`
	Data any    `json:"data"`
}

// RawEntry is an Entry read back with its payload left undecoded.
type RawEntry struct {
	Time time.Time       `json:"time"`
	Kind string          `json:"kind"`
	Key  string          `json:"key,omitempty"`
	Data json.RawMessage `json:"data"`
}

type Journal struct {
	w   *Writer
	now func() time.Time
}

func Open(dir string) *Journal {
	return &Journal{w: NewWriter(dir, "build"), now: time.Now}
}

func (j *Journal) Record(kind, key string, v any) error {
	return j.w.Write(Entry{Time: j.now().UTC(), Kind: kind, Key: key, Data: v})
}

func (j *Journal) Close() error { return j.w.Close() }

// Files lists journal files under dir, oldest first.
func Files(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "build-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func ReadFile(path string) ([]RawEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []RawEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		var e RawEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
