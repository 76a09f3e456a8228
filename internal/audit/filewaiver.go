package audit

import (
	"encoding/json"
	"os"
)

// FileWaiverReader implements WaiverReader over a standalone
// `.gitgov/waivers.json` file (a flat list of acknowledged
// fingerprints), so audit() is runnable end-to-end without a feedback
// store collaborator.
type FileWaiverReader struct {
	Path string
}

// NewFileWaiverReader returns a FileWaiverReader for waivers.json at
// path (typically "<root>/.gitgov/waivers.json").
func NewFileWaiverReader(path string) *FileWaiverReader {
	return &FileWaiverReader{Path: path}
}

func (w *FileWaiverReader) load() (map[string]bool, error) {
	blob, err := os.ReadFile(w.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	var fingerprints []string
	if err := json.Unmarshal(blob, &fingerprints); err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		set[fp] = true
	}
	return set, nil
}

func (w *FileWaiverReader) IsWaived(fingerprint string) (bool, error) {
	set, err := w.load()
	if err != nil {
		return false, err
	}
	return set[fingerprint], nil
}
