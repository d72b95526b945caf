package prompt

import "fmt"

// LoadError indicates the prompt file itself could not be read.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load prompt %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ParseError indicates the prompt was read but its declared contract is
// malformed: bad frontmatter, or a strict-validation failure.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse prompt %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IncludeNotFoundError indicates an include directive referenced a file
// that could not be read.
type IncludeNotFoundError struct {
	Directive string
	Path      string
	Err       error
}

func (e *IncludeNotFoundError) Error() string {
	return fmt.Sprintf("include %q not found at %s: %v", e.Directive, e.Path, e.Err)
}

func (e *IncludeNotFoundError) Unwrap() error {
	return e.Err
}

// IncludeDepthError indicates include resolution exceeded the configured
// recursion limit, usually a sign of cyclic includes.
type IncludeDepthError struct {
	Path  string
	Limit int
}

func (e *IncludeDepthError) Error() string {
	return fmt.Sprintf("include depth limit %d exceeded at %s", e.Limit, e.Path)
}
