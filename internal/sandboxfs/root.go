// Package sandboxfs implements the path sandbox and trash-based delete
// interposition: every caller-supplied relative path is
// resolved and canonicalized inside a fixed root, and deletes move their
// target into a recoverable trash directory instead of unlinking it.
package sandboxfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscape is returned when a resolved path would lie outside the sandbox
// root, whether via a literal absolute path or a symlink escape.
var ErrEscape = errors.New("sandboxfs: path escapes sandbox root")

// Root resolves and canonicalizes paths inside a fixed directory.
type Root struct {
	root string
}

// NewRoot canonicalizes rootPath and returns a Root bound to it. rootPath
// must already exist.
func NewRoot(rootPath string) (*Root, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("sandboxfs: resolve root %s: %w", rootPath, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("sandboxfs: canonicalize root %s: %w", rootPath, err)
	}
	return &Root{root: canonical}, nil
}

// Path returns the sandbox's canonical root directory.
func (r *Root) Path() string {
	return r.root
}

// Resolve canonicalizes a caller-supplied relative path against the
// sandbox root, rejecting absolute paths outright and any path that
// resolves (after symlink evaluation) outside the root. For paths that do
// not yet exist, the parent directory must exist and resolve inside the
// root.
func (r *Root) Resolve(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("%w: %s is absolute", ErrEscape, relativePath)
	}

	joined := filepath.Join(r.root, relativePath)
	if !withinRoot(r.root, joined) {
		return "", fmt.Errorf("%w: %s", ErrEscape, relativePath)
	}

	if canonical, err := filepath.EvalSymlinks(joined); err == nil {
		if !withinRoot(r.root, canonical) {
			return "", fmt.Errorf("%w: %s resolves outside root via symlink", ErrEscape, relativePath)
		}
		return canonical, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("sandboxfs: resolve %s: %w", relativePath, err)
	}

	// Path does not exist yet: the parent must exist and must be inside
	// the root.
	parent := filepath.Dir(joined)
	canonicalParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", fmt.Errorf("sandboxfs: parent of %s does not exist: %w", relativePath, err)
	}
	if !withinRoot(r.root, canonicalParent) {
		return "", fmt.Errorf("%w: parent of %s resolves outside root", ErrEscape, relativePath)
	}
	return filepath.Join(canonicalParent, filepath.Base(joined)), nil
}

func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
