package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const maxRecent = 8

// recentDirs is the most-recently-opened list, newest first, persisted
// as YAML so it survives restarts.
type recentDirs struct {
	path string
	Dirs []string `yaml:"dirs"`
}

// recentFile is where the list lives: <user config dir>/lessonview/recent.yaml.
func recentFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "lessonview", "recent.yaml")
}

// loadRecent reads the list at path. A missing or unreadable file gives
// an empty list; an empty path gives one that is never saved.
func loadRecent(path string) *recentDirs {
	r := &recentDirs{path: path}
	if path == "" {
		return r
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return r
	}
	if err := yaml.Unmarshal(data, r); err != nil {
		r.Dirs = nil
	}
	if len(r.Dirs) > maxRecent {
		r.Dirs = r.Dirs[:maxRecent]
	}
	return r
}

// add moves dir to the front and drops entries past maxRecent.
func (r *recentDirs) add(dir string) {
	next := []string{dir}
	for _, d := range r.Dirs {
		if d != dir && len(next) < maxRecent {
			next = append(next, d)
		}
	}
	r.Dirs = next
}

// prune drops directories that no longer exist.
func (r *recentDirs) prune() {
	kept := r.Dirs[:0]
	for _, d := range r.Dirs {
		if info, err := os.Stat(d); err == nil && info.IsDir() {
			kept = append(kept, d)
		}
	}
	r.Dirs = kept
}

func (r *recentDirs) save() error {
	if r.path == "" {
		return nil
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(r.path, data, 0644)
}
