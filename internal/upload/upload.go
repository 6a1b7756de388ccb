// Package upload stores video files posted by clients so they can be used
// as session sources.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrTooLarge  = errors.New("upload: file too large")
	ErrEmptyName = errors.New("upload: empty file name")
)

// Store writes uploads into one directory.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates dir if needed. Paths handed out by Save are absolute.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Store{dir: abs, maxBytes: maxBytes}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Save copies r into a new file named after name and returns its absolute
// path. The file is removed again when it exceeds the size limit.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	clean := SanitizeName(name)
	if clean == "" {
		return "", ErrEmptyName
	}

	path := filepath.Join(s.dir, uuid.NewString()[:8]+"_"+clean)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload: %w", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	return path, nil
}

// IsUpload reports whether path lies directly inside the upload directory.
func (s *Store) IsUpload(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == s.dir
}

// SanitizeName keeps the base name's letters, digits, dots, dashes and
// underscores; other runs of characters become a single underscore.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "._")
}
