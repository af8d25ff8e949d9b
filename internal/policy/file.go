package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilePersister keeps the table as a JSON document on local disk.
type FilePersister struct {
	Path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

func (p *FilePersister) LoadTable(_ context.Context) (Table, error) {
	data, err := os.ReadFile(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(Table), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p.Path, err)
	}
	t := make(Table)
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", p.Path, err)
	}
	return t, nil
}

// SaveTable writes to a temp file in the same directory and renames it over
// the target so a crash never leaves a truncated table.
func (p *FilePersister) SaveTable(_ context.Context, t Table) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode policy table: %w", err)
	}
	dir := filepath.Dir(p.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(p.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write policy table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", p.Path, err)
	}
	return nil
}
