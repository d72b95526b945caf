package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"
)

const (
	yamlDelimiter = "---"
	tomlDelimiter = "+++"
)

// Config controls prompt loading.
type Config struct {
	// BaseDir is prepended to relative prompt paths.
	BaseDir string
	// MaxIncludeDepth bounds include recursion. The prompt file itself
	// counts as depth 1, so a value of 2 allows one level of includes.
	MaxIncludeDepth int
	// Extensions restricts which file extensions may be loaded as
	// prompts. Empty means any. Include files are not restricted.
	Extensions []string
	// Strict enables Prompt.Validate on every load.
	Strict bool
}

func (c *Config) applyDefaults() {
	if c.MaxIncludeDepth <= 0 {
		c.MaxIncludeDepth = 5
	}
}

// Loader turns prompt files into include-resolved Prompts. Concurrent
// loads of the same path are collapsed into a single read.
type Loader struct {
	cfg   Config
	cache *Cache
	group singleflight.Group
}

// NewLoader creates a loader. cache may be nil to disable caching.
func NewLoader(cfg Config, cache *Cache) *Loader {
	cfg.applyDefaults()
	return &Loader{cfg: cfg, cache: cache}
}

// Load reads, parses, and include-resolves the prompt at path. The file is
// always read so the cache can be validated against the live bytes;
// parsing and include resolution are skipped on a content-hash match.
func (l *Loader) Load(path string) (*Prompt, error) {
	resolved := l.Resolve(path)

	v, err, _ := l.group.Do(resolved, func() (interface{}, error) {
		return l.load(resolved)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Prompt), nil
}

// Resolve returns the path the loader would read for path: relative paths
// are joined onto the configured base directory.
func (l *Loader) Resolve(path string) string {
	if filepath.IsAbs(path) || l.cfg.BaseDir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(l.cfg.BaseDir, path)
}

func (l *Loader) load(path string) (*Prompt, error) {
	if err := l.checkExtension(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	hash := hashBytes(raw)
	if l.cache != nil {
		if cached, ok := l.cache.Get(path, hash); ok {
			return cached, nil
		}
	}

	meta, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	includes, err := l.resolveIncludes(body, filepath.Dir(path), l.cfg.MaxIncludeDepth)
	if err != nil {
		return nil, err
	}

	p := &Prompt{
		SourcePath:   path,
		Metadata:     meta,
		Content:      body,
		Includes:     includes,
		LastModified: info.ModTime(),
		ContentHash:  hash,
	}

	if l.cfg.Strict {
		if err := p.Validate(); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
	}

	if l.cache != nil {
		l.cache.Put(path, p)
	}
	return p, nil
}

func (l *Loader) checkExtension(path string) error {
	if len(l.cfg.Extensions) == 0 {
		return nil
	}
	ext := filepath.Ext(path)
	for _, allowed := range l.cfg.Extensions {
		if ext == allowed {
			return nil
		}
	}
	return &LoadError{
		Path: path,
		Err:  fmt.Errorf("extension %q is not one of the accepted prompt extensions %v", ext, l.cfg.Extensions),
	}
}

// splitFrontmatter separates a frontmatter block from the prompt body.
// Content opening (after leading whitespace) with a --- line carries YAML
// frontmatter up to the next --- line; +++ delimits TOML the same way. An
// opening delimiter with no closer means the whole file is body, which is
// deliberately permissive rather than an error.
func splitFrontmatter(content string) (*Metadata, string, error) {
	trimmed := strings.TrimLeft(content, " \t\r\n")

	var delim string
	var parse func([]byte) (*Metadata, error)
	switch {
	case strings.HasPrefix(trimmed, yamlDelimiter+"\n"):
		delim, parse = yamlDelimiter, parseYAMLMetadata
	case strings.HasPrefix(trimmed, tomlDelimiter+"\n"):
		delim, parse = tomlDelimiter, parseTOMLMetadata
	default:
		return DefaultMetadata(), content, nil
	}

	lines := strings.Split(trimmed[len(delim)+1:], "\n")
	for i, line := range lines {
		if line != delim {
			continue
		}
		meta, err := parse([]byte(strings.Join(lines[:i], "\n")))
		if err != nil {
			return nil, "", err
		}
		return meta, strings.Join(lines[i+1:], "\n"), nil
	}

	return DefaultMetadata(), content, nil
}

// resolveIncludes expands the include directives in body, reading each
// referenced file relative to dir. remaining is the depth budget, checked
// before each read so runaway or cyclic chains fail deterministically.
func (l *Loader) resolveIncludes(body, dir string, remaining int) ([]IncludedContent, error) {
	matches := includeRe.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	includes := make([]IncludedContent, 0, len(matches))
	for _, m := range matches {
		directive := strings.TrimSpace(body[m[2]:m[3]])
		resolved := filepath.Join(dir, directive)

		if remaining <= 1 {
			return nil, &IncludeDepthError{Path: resolved, Limit: l.cfg.MaxIncludeDepth}
		}

		raw, err := os.ReadFile(resolved)
		if err != nil {
			return nil, &IncludeNotFoundError{Directive: directive, Path: resolved, Err: err}
		}

		content := string(raw)
		nested, err := l.resolveIncludes(content, filepath.Dir(resolved), remaining-1)
		if err != nil {
			return nil, err
		}
		if len(nested) > 0 {
			content = renderIncludes(content, nested)
		}

		includes = append(includes, IncludedContent{
			DirectivePath: directive,
			ResolvedPath:  resolved,
			Content:       content,
			Position:      m[0],
		})
	}
	return includes, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
