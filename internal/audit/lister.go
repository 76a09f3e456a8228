package audit

import (
	"io/fs"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultExcludes mirrors the paths a .gitignore would typically carry
// for a Go project; scope.Exclude is applied on top of these.
var defaultExcludes = []string{".git/**", ".gitgov/**", "node_modules/**", "vendor/**"}

// FilesystemLister walks Root, applying include/exclude doublestar
// glob patterns relative to Root.
type FilesystemLister struct {
	Root string
}

// NewFilesystemLister returns a FilesystemLister rooted at root.
func NewFilesystemLister(root string) *FilesystemLister {
	return &FilesystemLister{Root: root}
}

func (l *FilesystemLister) ListFiles(scope Scope) ([]string, error) {
	excludes := append(append([]string{}, defaultExcludes...), scope.Exclude...)

	var matches []string
	err := filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == l.Root {
			return nil
		}
		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matchesAny(excludes, rel+"/**") || matchesAny(excludes, rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if matchesAny(excludes, rel) {
			return nil
		}
		if len(scope.Include) > 0 && !matchesAny(scope.Include, rel) {
			return nil
		}
		matches = append(matches, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}
