// Package filestore resolves logical file references to bytes.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a reference does not resolve to a file.
	ErrNotFound = errors.New("filestore: file not found")
	// ErrInvalidRef is returned for empty or escaping references.
	ErrInvalidRef = errors.New("filestore: invalid file reference")
)

// Store reads and writes uploaded files.
type Store interface {
	Open(ctx context.Context, ref string) ([]byte, error)
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
}

// MaxFileSize caps the bytes read for a single upload.
const MaxFileSize = 32 << 20

// Local stores files under a base directory.
type Local struct {
	dir string
}

// NewLocal creates the base directory when missing.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", dir, err)
	}
	return &Local{dir: dir}, nil
}

// Open reads the file behind ref.
func (l *Local) Open(ctx context.Context, ref string) ([]byte, error) {
	full, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, err
	}
	defer f.Close()
	return readLimited(f)
}

// Save writes r under a new reference derived from filename.
func (l *Local) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	ref := NewRef(filename, time.Now())
	full, err := l.resolve(ref)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(full)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, io.LimitReader(r, MaxFileSize)); err != nil {
		_ = f.Close()
		return "", err
	}
	return ref, f.Close()
}

func (l *Local) resolve(ref string) (string, error) {
	clean, err := CleanRef(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.dir, filepath.FromSlash(clean)), nil
}

// CleanRef normalises ref and rejects references escaping the store root.
func CleanRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "/files/")
	clean := path.Clean("/" + ref)[1:]
	if clean == "" || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return clean, nil
}

// NewRef builds a unique reference that keeps the original extension.
func NewRef(filename string, now time.Time) string {
	base := filepath.Base(filename)
	if base == "." || base == "/" {
		base = "upload"
	}
	return path.Join("uploads", now.UTC().Format("2006/01/02"), uuid.NewString()+"-"+base)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("filestore: file exceeds %d bytes", MaxFileSize)
	}
	return data, nil
}
