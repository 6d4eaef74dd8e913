// Package audit writes a tamper-evident JSONL log. Each record is
// hash-chained to its predecessor: the hash of record i is SHA-256 over
// prev_hash || canonical-JSON(record-without-hash), canonicalised per
// RFC 8785.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

// GenesisHash anchors the first record of every log file.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Record is one line of the audit log.
type Record struct {
	TS        time.Time      `json:"ts"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// Log appends hash-chained records to one JSONL file. Safe for
// concurrent use; writes are serialised and fsynced before the lock is
// released.
type Log struct {
	mu       sync.Mutex
	path     string
	lastHash string
	now      func() time.Time
}

// Open creates a log at path, recovering the chain tail from an
// existing file so appends continue the chain across restarts.
func Open(path string) (*Log, error) {
	l := &Log{path: path, lastHash: GenesisHash, now: time.Now}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	for _, line := range splitLines(raw) {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("audit: corrupt record: %w", err)
		}
		l.lastHash = rec.Hash
	}
	return l, nil
}

// WithClock overrides the timestamp source for tests.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Append writes one record and returns its hash. The file is opened in
// append mode per write and fsynced before release.
func (l *Log) Append(eventType string, data map[string]any) (string, error) {
	if eventType == "" {
		return "", errors.New("audit: event type required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		TS:        l.now().UTC(),
		EventType: eventType,
		Data:      data,
		PrevHash:  l.lastHash,
	}
	hash, err := recordHash(rec)
	if err != nil {
		return "", err
	}
	rec.Hash = hash

	line, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("audit: encode record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("audit: write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("audit: sync log: %w", err)
	}

	l.lastHash = hash
	return hash, nil
}

// VerifyChain walks the file and reports whether every record's stored
// hash matches the recomputed hash and chains to its predecessor. An
// unreadable file fails verification with the error.
func (l *Log) VerifyChain() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	prev := GenesisHash
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return false, nil
		}
		if rec.PrevHash != prev {
			return false, nil
		}
		want, err := recordHash(Record{
			TS: rec.TS, EventType: rec.EventType, Data: rec.Data, PrevHash: rec.PrevHash,
		})
		if err != nil {
			return false, err
		}
		if rec.Hash != want {
			return false, nil
		}
		prev = rec.Hash
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("audit: scan log: %w", err)
	}
	return true, nil
}

// LastHash returns the chain tail, GenesisHash when empty.
func (l *Log) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Records reads the whole log in order.
func (l *Log) Records() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	var recs []Record
	for _, line := range splitLines(raw) {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("audit: corrupt record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func recordHash(rec Record) (string, error) {
	payload := struct {
		TS        time.Time      `json:"ts"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
		PrevHash  string         `json:"prev_hash"`
	}{rec.TS, rec.EventType, rec.Data, rec.PrevHash}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("audit: encode record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalise record: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(rec.PrevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func splitLines(raw []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
