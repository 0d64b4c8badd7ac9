package extcall

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ChecksumLoader refuses to open a library unless its SHA256 matches the
// allowlisted one for its path.
type ChecksumLoader struct {
	next Loader
	sums map[string]string
}

// NewChecksumLoader wraps next. Keys of sums are library paths, values are
// hex SHA256 digests.
func NewChecksumLoader(next Loader, sums map[string]string) *ChecksumLoader {
	clean := make(map[string]string, len(sums))
	for path, sum := range sums {
		clean[filepath.Clean(path)] = strings.ToLower(sum)
	}
	return &ChecksumLoader{next: next, sums: clean}
}

func (l *ChecksumLoader) Open(path string) (Library, error) {
	expected, ok := l.sums[filepath.Clean(path)]
	if !ok {
		return nil, fmt.Errorf("library %s is not in the checksum allowlist", path)
	}
	actual, err := Checksum(path)
	if err != nil {
		return nil, err
	}
	if actual != expected {
		return nil, fmt.Errorf("library %s checksum mismatch: got %s", path, actual)
	}
	return l.next.Open(path)
}

// Checksum returns the hex SHA256 of the file at path.
func Checksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read library file: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
