package trace

import (
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ArtifactCreated records a file produced during the run: byte length, a
// blake3 checksum and a mime guess. Emitted on the current span; no-op while
// idle. The file itself stays where it is; the trace only fingerprints it.
func (s *Service) ArtifactCreated(name, path string) error {
	if s == nil || !s.Active() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	h := blake3.New()
	n, err := io.Copy(h, f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("checksum artifact %s: %w", path, err)
	}
	s.Emit(KindSystem, EventArtifactCreated, map[string]any{
		"name":      name,
		"path":      path,
		"bytes_len": n,
		"checksum":  hex.EncodeToString(h.Sum(nil)),
		"mime":      mimeForPath(path),
	})
	return nil
}

func mimeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	switch ext {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
