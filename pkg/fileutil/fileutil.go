// Package fileutil implements file utilities.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/varadharajaan/aws-infra-setup-sub002/pkg/randutil"
)

// Exist returns true if a file or directory exists.
func Exist(name string) bool {
	if name == "" {
		return false
	}
	_, err := os.Stat(name)
	return err == nil
}

// WriteAtomic writes data to path through a temp file in the same directory
// and renames it over the destination, so readers never observe a torn write.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdirall: %v", err)
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), randutil.String(8)))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// NewestMatch returns the lexicographically greatest path matching the glob
// pattern. Filenames that embed a "<YYYYMMDD>_<HHMMSS>" timestamp sort in
// chronological order, so the greatest match is the newest file.
func NewestMatch(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no file matched %q", pattern)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
