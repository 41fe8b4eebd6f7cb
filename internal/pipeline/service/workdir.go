package service

import (
	"fmt"
	"os"
	"path/filepath"
)

// WorkingPaths is the job-scoped filesystem namespace. Everything lives
// under WorkRoot/<jobID>, which must be on the volume shared with the
// anonymization engine, and is removed on every exit path.
type WorkingPaths struct {
	Root        string
	ImagesDir   string
	SourceVideo string
	OutputVideo string
}

func NewWorkingPaths(workRoot, jobID, fileName string) WorkingPaths {
	root := filepath.Join(workRoot, jobID)
	return WorkingPaths{
		Root:        root,
		ImagesDir:   filepath.Join(root, "images"),
		SourceVideo: filepath.Join(root, fileName),
		OutputVideo: filepath.Join(root, "blurred_"+fileName),
	}
}

// Create makes a fresh directory tree. Leftovers from a crashed earlier
// attempt are discarded first.
func (w WorkingPaths) Create() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("clear working dir: %w", err)
	}
	if err := os.MkdirAll(w.ImagesDir, 0o755); err != nil {
		return fmt.Errorf("create working dir: %w", err)
	}
	return nil
}

func (w WorkingPaths) Remove() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("remove working dir: %w", err)
	}
	return nil
}
