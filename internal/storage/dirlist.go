package storage

import (
	"os"
	"strings"
)

// readDirJSONStems lists the base names (without .json) of every
// *.json file directly in dir. A missing dir yields an empty list, not
// an error — nothing has been persisted there yet.
func readDirJSONStems(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var stems []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".tmp") {
			continue
		}
		if stem, ok := strings.CutSuffix(name, ".json"); ok {
			stems = append(stems, stem)
		}
	}
	return stems, nil
}
