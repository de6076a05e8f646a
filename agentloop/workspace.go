package agentloop

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrOutsideWorkspace is returned for names that would leave the workspace.
	ErrOutsideWorkspace = errors.New("path is outside the workspace")
	// ErrFileExists is returned when writing over a file without overwrite.
	ErrFileExists = errors.New("file already exists")
)

// Workspace is a single directory that file tools are confined to. Files are
// addressed by plain names; directories and traversal are rejected.
type Workspace struct {
	root string
}

// DirEntry describes one file in a Workspace.
type DirEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// NewWorkspace creates root if needed and returns a Workspace over it.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		return nil, errors.New("agentloop: workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("agentloop: workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("agentloop: create workspace: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// Resolve maps a plain file name to its absolute path inside the workspace.
func (w *Workspace) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q is not a file name", ErrOutsideWorkspace, name)
	case filepath.IsAbs(name), strings.ContainsAny(name, `/\`), filepath.Base(name) != name:
		return "", fmt.Errorf("%w: %q must be a plain file name without directories", ErrOutsideWorkspace, name)
	}
	return filepath.Join(w.root, name), nil
}

// open opens name inside the workspace. Symbolic links are refused, and the
// open itself goes through an os.Root so nothing outside root is reachable.
func (w *Workspace) open(name string, flag int) (*os.File, string, error) {
	path, err := w.Resolve(name)
	if err != nil {
		return nil, "", err
	}
	if info, err := os.Lstat(path); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		return nil, "", fmt.Errorf("%w: %q is a symbolic link", ErrOutsideWorkspace, name)
	}
	root, err := os.OpenRoot(w.root)
	if err != nil {
		return nil, "", err
	}
	defer root.Close()
	f, err := root.OpenFile(filepath.Base(path), flag, 0o644)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

// WriteFile stores content under name and returns the absolute path. An
// existing file is replaced only when overwrite is set.
func (w *Workspace) WriteFile(name, content string, overwrite bool) (string, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, path, err := w.open(name, flags)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrFileExists, name)
		}
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// ReadFile returns the content of name.
func (w *Workspace) ReadFile(name string) (string, error) {
	f, _, err := w.open(name, os.O_RDONLY)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// List returns the regular files in the workspace sorted by name.
func (w *Workspace) List() ([]DirEntry, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, err
	}
	var out []DirEntry
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, DirEntry{Name: e.Name(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
