// Package scanner finds indexable source files under a repository root.
//
// The ignore policy is layered: built-in ignores (VCS metadata, vendor
// directories), .gitignore semantics, the project-local .bombeignore,
// default sensitive-path patterns, and caller-supplied include/exclude
// globs. Output ordering is stable across runs.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// Entry is one discovered file.
type Entry struct {
	AbsPath   string
	RelPath   string // repo-relative, POSIX separators
	Language  string
	SizeBytes int64
}

// languageByExtension is the closed detection map.
var languageByExtension = map[string]string{
	".py":   "python",
	".java": "java",
	".ts":   "typescript",
	".tsx":  "typescript",
	".go":   "go",
}

// skipDirs are never descended into regardless of ignore files.
var skipDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	".bombe":       {},
	"node_modules": {},
	"vendor":       {},
	"__pycache__":  {},
	".venv":        {},
	"venv":         {},
	"dist":         {},
	"build":        {},
	".mypy_cache":  {},
	".ruff_cache":  {},
}

// sensitivePatterns match key material and credential stores. Applied by
// default; Options.DisableSensitiveExclusion opts out.
var sensitivePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*secret*",
	"*secrets*",
	"*credential*",
	"id_rsa",
	"id_dsa",
}

// Options configures an enumeration pass.
type Options struct {
	Include                   []string
	Exclude                   []string
	DisableSensitiveExclusion bool
	MaxFileBytes              int64 // 0 means no limit
}

// Scanner enumerates files under a single root.
type Scanner struct {
	root string
	opts Options

	gitignore   *ignore.GitIgnore
	bombeignore *ignore.GitIgnore
	sensitive   *ignore.GitIgnore
	exclude     *ignore.GitIgnore

	// Skipped holds files rejected by the size limit during the last
	// Enumerate call, for diagnostic reporting.
	Skipped []Entry
}

// New creates a Scanner rooted at root.
func New(root string, opts Options) *Scanner {
	s := &Scanner{root: root, opts: opts}
	s.gitignore = compileIgnoreFile(filepath.Join(root, ".gitignore"))
	s.bombeignore = compileIgnoreFile(filepath.Join(root, ".bombeignore"))
	if !opts.DisableSensitiveExclusion {
		s.sensitive = ignore.CompileIgnoreLines(sensitivePatterns...)
	}
	if len(opts.Exclude) > 0 {
		s.exclude = ignore.CompileIgnoreLines(opts.Exclude...)
	}
	return s
}

func compileIgnoreFile(path string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}

// DetectLanguage maps a path to its language tag, or "" when the extension
// is outside the closed set.
func DetectLanguage(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

// Enumerate walks the root and returns an ordered, deduplicated sequence of
// entries. Ordering is ascending by relative path.
func (s *Scanner) Enumerate() ([]Entry, error) {
	s.Skipped = nil
	seen := make(map[string]struct{})
	var entries []Entry

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if path == s.root {
				return nil
			}
			if _, skip := skipDirs[name]; skip {
				return filepath.SkipDir
			}
			rel, relErr := filepath.Rel(s.root, path)
			if relErr != nil {
				return filepath.SkipDir
			}
			rel = filepath.ToSlash(rel)
			if s.ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if s.ignored(rel, false) {
			return nil
		}
		if !s.included(rel) {
			return nil
		}
		lang := DetectLanguage(name)
		if lang == "" {
			return nil
		}
		if _, dup := seen[rel]; dup {
			return nil
		}
		seen[rel] = struct{}{}

		info, infoErr := d.Info()
		var size int64
		if infoErr == nil {
			size = info.Size()
		}
		entry := Entry{AbsPath: path, RelPath: rel, Language: lang, SizeBytes: size}
		if s.opts.MaxFileBytes > 0 && size > s.opts.MaxFileBytes {
			s.Skipped = append(s.Skipped, entry)
			return nil
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries, nil
}

func (s *Scanner) ignored(rel string, isDir bool) bool {
	_ = isDir
	if s.gitignore != nil && s.gitignore.MatchesPath(rel) {
		return true
	}
	if s.bombeignore != nil && s.bombeignore.MatchesPath(rel) {
		return true
	}
	if s.sensitive != nil && s.sensitive.MatchesPath(rel) {
		return true
	}
	if s.exclude != nil && s.exclude.MatchesPath(rel) {
		return true
	}
	return false
}

func (s *Scanner) included(rel string) bool {
	if len(s.opts.Include) == 0 {
		return true
	}
	base := filepath.Base(rel)
	for _, pattern := range s.opts.Include {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		// a/**/b style: match path prefix segments
		if strings.Contains(pattern, "**") {
			if matchDoubleStar(rel, pattern) {
				return true
			}
		}
	}
	return false
}

// matchDoubleStar supports the common "dir/**/*.ext" include form by
// splitting on the first "**" and matching prefix and suffix separately.
func matchDoubleStar(rel, pattern string) bool {
	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")
	if prefix != "" && !strings.HasPrefix(rel, prefix+"/") && rel != prefix {
		return false
	}
	if suffix == "" {
		return true
	}
	ok, _ := filepath.Match(suffix, filepath.Base(rel))
	return ok
}

// ContentHash returns the SHA-256 hex digest of the file contents.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
