package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

var ErrNotFileURI = errors.New("not a file uri")

// Workspace resolves paths and URIs relative to one workspace root.
type Workspace struct {
	root string
}

// New creates a Workspace for root, which may be a path or a file URI.
func New(root string) (*Workspace, error) {
	if strings.HasPrefix(root, "file:") {
		p, err := URIToPath(root)
		if err != nil {
			return nil, err
		}
		root = p
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	return &Workspace{root: filepath.Clean(abs)}, nil
}

// Root is the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// Resolve turns a configured path into an absolute one. Relative paths are
// taken from the root and a leading ~ expands to the home directory.
func (w *Workspace) Resolve(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.root, p)
	}
	return filepath.Clean(p)
}

// Rel returns p relative to the root, or p itself when it lies outside.
func (w *Workspace) Rel(p string) string {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return rel
}

// URIToPath converts a file URI into a filesystem path.
func URIToPath(uri protocol.DocumentUri) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: %s", ErrNotFileURI, uri)
	}
	return filepath.FromSlash(u.Path), nil
}

// PathToURI converts an absolute path into a file URI.
func PathToURI(p string) protocol.DocumentUri {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(filepath.Clean(p)),
	}
	return u.String()
}

// StateDir returns the per-workspace directory below the XDG state home
// and creates it if needed.
func (w *Workspace) StateDir(appName string) (string, error) {
	base, err := getXDGStateHome(appName)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, url.PathEscape(w.root))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

func getXDGStateHome(appName string) (string, error) {
	xdgStateHome := os.Getenv("XDG_STATE_HOME")
	if xdgStateHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		xdgStateHome = filepath.Join(homeDir, ".local", "state")
	}

	appStateDir := filepath.Join(xdgStateHome, appName)
	if err := os.MkdirAll(appStateDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}

	return appStateDir, nil
}
