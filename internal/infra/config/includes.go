package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// includeDepthLimit bounds how deeply included files may include others.
const includeDepthLimit = 10

// overlay layers the files named in an includes list onto cfg. Patterns are
// globs relative to the including file and may not leave its directory.
// Files apply in order, so later ones override earlier ones.
type overlay struct {
	cfg  *Config
	seen map[string]bool
}

func newOverlay(cfg *Config, root string) *overlay {
	return &overlay{cfg: cfg, seen: map[string]bool{root: true}}
}

func (o *overlay) apply(dir string, patterns []string, depth int) error {
	if depth > includeDepthLimit {
		return fmt.Errorf("config includes: max depth %d exceeded", includeDepthLimit)
	}
	for _, pattern := range patterns {
		files, err := expandInclude(dir, pattern)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := o.merge(f, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *overlay) merge(path string, depth int) error {
	if o.seen[path] {
		return fmt.Errorf("config includes: circular include of %q", path)
	}
	o.seen[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	o.cfg.Includes = nil
	if err := yaml.Unmarshal(data, o.cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	nested := o.cfg.Includes
	o.cfg.Includes = nil
	if len(nested) == 0 {
		return nil
	}
	return o.apply(filepath.Dir(path), nested, depth)
}

// expandInclude resolves pattern against dir. A literal path that does not
// exist is returned as is so the read reports it; a glob matching nothing
// yields no files.
func expandInclude(dir, pattern string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(dir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(dir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: %q escapes the config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return []string{pattern}, nil
	}
	return matches, nil
}
