package naming

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Forbidden lists the characters that may not appear in a filename.
const Forbidden = `\/:*?"<>|`

// Placeholder replaces forbidden characters under PolicyReplace.
const Placeholder = '_'

// Defaults for RandomUniqueName.
const (
	DefaultCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultLength  = 16
)

// Common errors.
var (
	ErrUnsafeCharset  = errors.New("naming: charset contains characters that are not filesystem safe")
	ErrInvalidLength  = errors.New("naming: name length must be positive")
	ErrNamesExhausted = errors.New("naming: no free name found within attempt limit")
)

// Policy selects how Sanitize treats forbidden characters.
type Policy int

const (
	// PolicyReplace substitutes Placeholder for each forbidden character.
	PolicyReplace Policy = iota
	// PolicyRemove drops forbidden characters.
	PolicyRemove
)

func (p Policy) String() string {
	switch p {
	case PolicyReplace:
		return "replace"
	case PolicyRemove:
		return "remove"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "replace" or "remove".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "replace":
		return PolicyReplace, nil
	case "remove":
		return PolicyRemove, nil
	default:
		return 0, fmt.Errorf("naming: unknown policy %q", s)
	}
}

// DeriveFilename returns the last path segment of rawURL with the query
// string cut off. A single trailing slash is ignored, so
// "https://host/dir/" yields "dir".
func DeriveFilename(rawURL string) string {
	s := strings.TrimSuffix(rawURL, "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	return s
}

// Sanitize removes or replaces every forbidden character in name.
func Sanitize(name string, p Policy) string {
	return strings.Map(func(r rune) rune {
		if !strings.ContainsRune(Forbidden, r) {
			return r
		}
		if p == PolicyRemove {
			return -1
		}
		return Placeholder
	}, name)
}

// IsSafe reports whether s passes through Sanitize unchanged.
func IsSafe(s string) bool {
	return Sanitize(s, PolicyRemove) == s
}

// RandomUniqueName returns a name of the given length, drawn from charset,
// that does not exist in dir. The charset is checked before any sampling.
// If maxAttempts is positive the search gives up with ErrNamesExhausted
// after that many candidates.
func RandomUniqueName(fs afero.Fs, dir, charset string, length, maxAttempts int) (string, error) {
	if charset == "" || !IsSafe(charset) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeCharset, charset)
	}
	if length <= 0 {
		return "", ErrInvalidLength
	}

	taken, err := listNames(fs, dir)
	if err != nil {
		return "", err
	}

	alphabet := []rune(charset)
	buf := make([]rune, length)
	for attempt := 0; maxAttempts <= 0 || attempt < maxAttempts; attempt++ {
		for i := range buf {
			buf[i] = alphabet[rand.IntN(len(alphabet))]
		}
		name := string(buf)
		if _, ok := taken[name]; ok {
			continue
		}
		// The listing may be stale if another writer is active in dir.
		exists, err := afero.Exists(fs, filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("stat candidate: %w", err)
		}
		if !exists {
			return name, nil
		}
		taken[name] = struct{}{}
	}

	return "", fmt.Errorf("%w (%d attempts)", ErrNamesExhausted, maxAttempts)
}

func listNames(fs afero.Fs, dir string) (map[string]struct{}, error) {
	names := make(map[string]struct{})
	entries, err := afero.ReadDir(fs, dir)
	if errors.Is(err, os.ErrNotExist) {
		return names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	for _, e := range entries {
		names[e.Name()] = struct{}{}
	}
	return names, nil
}
