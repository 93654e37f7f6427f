// Package storage implements Project Persistence (spec §4.K, §6): atomic
// JSON storage of a project's networks, memory entries, and permission
// settings under a DI-provided config root.
//
// Grounded on the teacher's internal/pairing.Store.writeStore (temp-file
// + os.Rename atomic write, 0700 dirs / 0600 files) generalized from one
// per-channel JSON document to the three document kinds spec §6 names.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeJSONAtomic marshals v and writes it to path via a temp file in the
// same directory followed by os.Rename, so a reader never observes a
// partially-written file and a crash mid-write leaves the previous
// version intact (spec §7 PersistenceError: "no partial state is
// visible because rename was never performed").
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file into %s: %w", path, err)
	}
	return nil
}

// readJSON loads path into v. A missing file is reported via the
// returned bool (found=false), distinct from a genuine read/parse
// failure.
func readJSON(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// EncodeProjectPath turns an absolute filesystem path into the
// filesystem-safe directory-name encoding spec §6 assumes for
// `<configRoot>/projects/<encodedProjectPath>/...`.
func EncodeProjectPath(projectPath string) string {
	out := make([]rune, 0, len(projectPath))
	for _, r := range projectPath {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
