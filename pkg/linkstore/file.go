// Copyright 2024-2026 Aiku AI

package linkstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileDocument is the on-disk JSON shape. Both directions are written so the
// file stays readable by older tooling; only the forward map is authoritative
// on load. The mcToDiscord/discordToMc names written by earlier releases
// are still accepted on load.
type fileDocument struct {
	GameToPlatform map[string]string `json:"gameToPlatform"`
	PlatformToGame map[string]string `json:"platformToGame"`

	LegacyGameToPlatform map[string]string `json:"mcToDiscord,omitempty"`
	LegacyPlatformToGame map[string]string `json:"discordToMc,omitempty"`
}

// FileBackend stores the mapping as a JSON document. Saves go to a temporary
// file in the same directory which is synced and then renamed over the
// target.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

var _ Backend = (*FileBackend)(nil)

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Load(_ context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading links file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]string{}, nil
	}

	var doc fileDocument
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing links file: %w", err)
	}

	switch {
	case len(doc.GameToPlatform) > 0:
		return doc.GameToPlatform, nil
	case len(doc.LegacyGameToPlatform) > 0:
		return doc.LegacyGameToPlatform, nil
	}
	reverse := doc.PlatformToGame
	if len(reverse) == 0 {
		reverse = doc.LegacyPlatformToGame
	}
	out := make(map[string]string, len(reverse))
	for pid, handle := range reverse {
		if _, dup := out[handle]; !dup {
			out[handle] = pid
		}
	}
	return out, nil
}

func (f *FileBackend) Save(_ context.Context, gameToPlatform map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := fileDocument{
		GameToPlatform: gameToPlatform,
		PlatformToGame: make(map[string]string, len(gameToPlatform)),
	}
	for handle, pid := range gameToPlatform {
		doc.PlatformToGame[pid] = handle
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encoding links: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating links directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replacing links file: %w", err)
	}
	committed = true

	// Directory sync makes the rename itself durable; not all platforms allow it.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
