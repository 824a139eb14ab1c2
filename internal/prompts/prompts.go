// Package prompts provides the system prompts used by every pipeline stage.
// Defaults are embedded; any file with the same relative path inside an override
// directory replaces the embedded version.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed defaults
var defaults embed.FS

// Prompt names, relative to the prompts directory without the .md suffix.
const (
	Researcher     = "researcher"
	Writer         = "writer"
	WritingGuide   = "writing_guide"
	Rewriter       = "rewriter"
	ContentPlanner = "content_planner"
	CriticFormat   = "critics/output_format"
)

// Critic returns the prompt name for a critic evaluator.
func Critic(name string) string {
	return "critics/" + name
}

// Set is an immutable, fully loaded collection of prompts.
type Set struct {
	byName map[string]string
}

// Load reads every embedded prompt and applies overrides from dir (may be empty).
func Load(dir string) (*Set, error) {
	set := &Set{byName: map[string]string{}}

	err := fs.WalkDir(defaults, "defaults", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		raw, err := defaults.ReadFile(path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(strings.TrimPrefix(path, "defaults/"), ".md")
		set.byName[name] = strings.TrimSpace(string(raw))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read embedded prompts: %w", err)
	}

	if dir == "" {
		return set, nil
	}

	for name := range set.byName {
		override := filepath.Join(dir, filepath.FromSlash(name)+".md")
		raw, err := os.ReadFile(override)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", override, err)
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			set.byName[name] = text
		}
	}

	return set, nil
}

// Get returns the prompt text or an empty string when unknown.
func (s *Set) Get(name string) string {
	if s == nil {
		return ""
	}
	return s.byName[name]
}
