// Package localfs implements storage.Provider on the local filesystem under
// a single data root.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chatmirror/chatmirror/internal/storage"
)

// Provider stores objects below dataRoot.
type Provider struct {
	dataRoot string
}

// New creates a Provider rooted at dataRoot.
func New(dataRoot string) (*Provider, error) {
	abs, err := filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	return &Provider{dataRoot: abs}, nil
}

// EnsureDir creates the directory for the key prefix; repeat calls are no-ops.
func (p *Provider) EnsureDir(key string) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return nil
}

// Put writes data under the key, creating parent directories as needed.
func (p *Provider) Put(_ context.Context, key string, reader io.Reader) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Open reads a stored object.
func (p *Provider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	dest, err := p.hostPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes a stored object; absent keys are not an error.
func (p *Provider) Delete(_ context.Context, key string) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// AccessPath returns the absolute filesystem path for a key.
func (p *Provider) AccessPath(key string) string {
	dest, err := p.hostPath(key)
	if err != nil {
		return ""
	}
	return dest
}

// hostPath converts a storage key into an absolute path below the data root.
func (p *Provider) hostPath(key string) (string, error) {
	clean := filepath.Clean(strings.TrimSpace(key))
	if clean == "" || clean == "." {
		return "", fmt.Errorf("storage key is required")
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute key %s", storage.ErrPathTraversal, key)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", storage.ErrPathTraversal, key)
	}
	joined := filepath.Join(p.dataRoot, clean)
	if !strings.HasPrefix(joined, p.dataRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes data root", storage.ErrPathTraversal, key)
	}
	return joined, nil
}
