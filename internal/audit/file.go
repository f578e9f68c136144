package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileBackup saves run events to local files.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./state/audit"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &FileBackup{dir: dir}, nil
}

// Path returns the file an event is saved to:
// {warehouse}_{reference_date}_{run_id}.json
func (f *FileBackup) Path(evt *RunEvent) string {
	name := fmt.Sprintf("%s_%s_%s.json",
		sanitize(evt.Run.Warehouse),
		evt.Run.ReferenceDate,
		evt.Run.RunID,
	)
	return filepath.Join(f.dir, name)
}

// Save writes a run event to a local JSON file.
func (f *FileBackup) Save(evt *RunEvent) error {
	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(f.Path(evt), data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, s)
}
