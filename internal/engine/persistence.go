package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const listsFile = "lists.json"

// Persistence handles the disk I/O for the MemStore lists.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
	saved   uint64     // highest snapshot version written
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Persistence{DataDir: dir}, nil
}

// SaveLists writes a list snapshot atomically. Snapshots older than the last
// one written are ignored, so out-of-order background saves cannot roll the
// file back.
func (p *Persistence) SaveLists(version uint64, lists map[string][][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if version < p.saved {
		return nil
	}

	doc := make(map[string][]string, len(lists))
	for name, items := range lists {
		encoded := make([]string, len(items))
		for i, item := range items {
			encoded[i] = string(item)
		}
		doc[name] = encoded
	}

	bytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	filePath := filepath.Join(p.DataDir, listsFile)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, bytes, 0644); err != nil {
		return err
	}
	// Rename replaces the file in one step; readers see the old or the new snapshot.
	if err := os.Rename(tempPath, filePath); err != nil {
		return err
	}
	p.saved = version
	return nil
}

// LoadLists returns the last list snapshot, or an empty map when none exists.
func (p *Persistence) LoadLists() (map[string][][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	content, err := os.ReadFile(filepath.Join(p.DataDir, listsFile))
	if os.IsNotExist(err) {
		return make(map[string][][]byte), nil
	}
	if err != nil {
		return nil, err
	}

	var doc map[string][]string
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", listsFile, err)
	}

	lists := make(map[string][][]byte, len(doc))
	for name, items := range doc {
		decoded := make([][]byte, len(items))
		for i, item := range items {
			decoded[i] = []byte(item)
		}
		lists[name] = decoded
	}
	return lists, nil
}
