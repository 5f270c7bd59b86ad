package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultPath is where the local backend keeps the run record, relative to
// the working directory.
const DefaultPath = ".faststack/run.json"

// Local keeps the run record in a file next to the project.
type Local struct {
	path string
}

func NewLocal(path string) *Local {
	if path == "" {
		path = DefaultPath
	}
	return &Local{path: path}
}

func (l *Local) Read(ctx context.Context) (*Record, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run record %s: %w", l.path, err)
	}

	raw, err = decryptRecord(raw)
	if err != nil {
		return nil, err
	}

	rec := &Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("failed to parse run record %s: %w", l.path, err)
	}
	return rec, nil
}

func (l *Local) Write(ctx context.Context, rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	raw, err = encryptRecord(raw)
	if err != nil {
		return err
	}

	if err := os.WriteFile(l.path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write run record %s: %w", l.path, err)
	}
	return nil
}

// Lock takes a file lock next to the record. A lock older than ten minutes
// is treated as left behind by a dead process.
func (l *Local) Lock() error {
	lockPath := l.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil {
		if time.Since(info.ModTime()) > 10*time.Minute {
			os.Remove(lockPath)
		} else {
			return fmt.Errorf("another deployment is in progress (lock file: %s). "+
				"If this is an error, remove the lock file manually", lockPath)
		}
	}

	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(lockPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	return nil
}

func (l *Local) Unlock() error {
	if err := os.Remove(l.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (l *Local) lockPath() string {
	return l.path + ".lock"
}
