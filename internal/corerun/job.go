// Package corerun owns the scratch directories and subprocess handling used
// whenever a converter binary is invoked. Scratch state is strictly
// per-request and is removed on every exit path.
package corerun

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Job is one request's scratch directory. Never shared across requests.
type Job struct {
	dir string
}

// NewJob creates a uniquely named scratch directory under root, creating root
// lazily on first use.
func NewJob(root string) (*Job, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	dir := filepath.Join(root, uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Job{dir: dir}, nil
}

func (j *Job) Dir() string { return j.dir }

// WriteFile places a config file inside the job directory and returns its
// full path.
func (j *Job) WriteFile(name string, data []byte) (string, error) {
	path := filepath.Join(j.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	return path, nil
}

// Close removes the scratch directory. Safe to call more than once and on
// every exit path, including cancellation.
func (j *Job) Close() error {
	if j == nil || j.dir == "" {
		return nil
	}
	err := os.RemoveAll(j.dir)
	j.dir = ""
	return err
}
