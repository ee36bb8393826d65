package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// includer overlays included YAML fragments onto a Config. Later files win;
// the including file is re-applied by the caller so it wins over all of them.
type includer struct {
	cfg  *Config
	seen map[string]bool
}

// processIncludes applies cfg.Includes relative to baseDir. visited holds the
// absolute paths already loaded, including the root config file.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if visited == nil {
		visited = make(map[string]bool)
	}
	inc := &includer{cfg: cfg, seen: visited}
	return inc.apply(cfg.Includes, baseDir, depth)
}

func (inc *includer) apply(patterns []string, baseDir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	for _, pattern := range patterns {
		files, err := expandInclude(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := inc.load(f, depth+1); err != nil {
				return err
			}
		}
	}
	inc.cfg.Includes = nil
	return nil
}

func (inc *includer) load(path string, depth int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config includes: abs path %q: %w", path, err)
	}
	if inc.seen[abs] {
		return fmt.Errorf("config includes: circular include detected for %q", abs)
	}
	inc.seen[abs] = true

	if err := validatePermissions(abs); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", abs, err)
	}
	if len(data) == 0 {
		return nil
	}

	// Only includes declared by this fragment are followed from here.
	inc.cfg.Includes = nil
	if err := yaml.Unmarshal(data, inc.cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", abs, err)
	}
	if nested := inc.cfg.Includes; len(nested) > 0 {
		return inc.apply(nested, filepath.Dir(abs), depth)
	}
	return nil
}

// expandInclude turns one includes entry into file paths. Relative entries
// are resolved against baseDir and may not climb out of it. A glob that
// matches nothing yields no files; a literal path is returned as-is so the
// read reports it missing.
func expandInclude(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		return []string{pattern}, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	return matches, nil
}
