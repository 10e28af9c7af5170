package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// OpenBackend builds a Backend from a DSN such as file://data/sync_data.json,
// sqlite://data/mapping.db, postgres://..., redis://host:6379/0 or memory://.
func OpenBackend(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("empty mapping dsn")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mapping dsn: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "", "file":
		return NewFileBackend(dsnPath(parsed, dsn)), nil
	case "memory", "mem":
		return NewMemoryBackend(), nil
	case "sqlite", "sqlite3":
		return NewSQLiteBackend(dsnPath(parsed, dsn))
	case "postgres", "postgresql":
		return NewPostgresBackend(dsn)
	case "redis":
		return NewRedisBackend(parsed)
	default:
		return nil, fmt.Errorf("unsupported mapping backend scheme: %s", parsed.Scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) string {
	if parsed.Scheme == "" {
		return raw
	}
	// file://data/x.json parses "data" as the host.
	return filepath.Join(parsed.Host, parsed.Path)
}

type MemoryBackend struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load() (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneSnapshot(b.snap), nil
}

func (b *MemoryBackend) Save(snap Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap = cloneSnapshot(snap)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

func cloneSnapshot(snap Snapshot) Snapshot {
	out := make(Snapshot, len(snap))
	for k, table := range snap {
		t := make(map[string]string, len(table))
		for src, dst := range table {
			t[src] = dst
		}
		out[k] = t
	}
	return out
}

// FileBackend stores the snapshot as one JSON document keyed by table name,
// the same layout as the bot's historical sync_data.json.
type FileBackend struct {
	Path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

func (b *FileBackend) Load() (Snapshot, error) {
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return Snapshot{}, nil
	}
	return decodeSnapshot(data)
}

func (b *FileBackend) Save(snap Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(b.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("error writing mapping file %s: %w", tmp, err)
	}
	return os.Rename(tmp, b.Path)
}

func (b *FileBackend) Close() error { return nil }

// encodeSnapshot writes numeric ids as JSON numbers so older readers that
// expect integer values keep working.
func encodeSnapshot(snap Snapshot) ([]byte, error) {
	doc := make(map[string]map[string]json.RawMessage, len(Kinds))
	for _, k := range Kinds {
		table := make(map[string]json.RawMessage, len(snap[k]))
		for src, dst := range snap[k] {
			if _, err := strconv.ParseUint(dst, 10, 64); err == nil {
				table[src] = json.RawMessage(dst)
				continue
			}
			quoted, err := json.Marshal(dst)
			if err != nil {
				return nil, err
			}
			table[src] = quoted
		}
		doc[k.String()] = table
	}
	return json.Marshal(doc)
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error unmarshalling mapping snapshot: %w", err)
	}
	snap := make(Snapshot, len(doc))
	for name, raw := range doc {
		kind, ok := ParseKind(name)
		if !ok {
			continue
		}
		table := make(map[string]string, len(raw))
		for src, value := range raw {
			var num json.Number
			if err := json.Unmarshal(value, &num); err == nil {
				table[src] = num.String()
				continue
			}
			var str string
			if err := json.Unmarshal(value, &str); err != nil {
				return nil, fmt.Errorf("%s[%s]: %w", name, src, err)
			}
			table[src] = str
		}
		snap[kind] = table
	}
	return snap, nil
}
