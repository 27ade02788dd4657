package naming

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestDeriveFilename(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://host/path/video.mp4?token=abc", "video.mp4"},
		{"https://host/dir/", "dir"},
		{"https://host/file.bin", "file.bin"},
		{"https://host/a/b/c.tar.gz?x=1&y=2", "c.tar.gz"},
		{"https://host/?q=1", ""},
		{"https://host", "host"},
		{"file.txt", "file.txt"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := DeriveFilename(tt.url); got != tt.expected {
			t.Errorf("DeriveFilename(%q) = %q, want %q", tt.url, got, tt.expected)
		}
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		input    string
		policy   Policy
		expected string
	}{
		{"plain.txt", PolicyReplace, "plain.txt"},
		{`a:b*c?.txt`, PolicyReplace, "a_b_c_.txt"},
		{`a:b*c?.txt`, PolicyRemove, "abc.txt"},
		{`\/:*?"<>|`, PolicyReplace, "_________"},
		{`\/:*?"<>|`, PolicyRemove, ""},
		{"ünïcode:名前", PolicyReplace, "ünïcode_名前"},
	}

	for _, tt := range tests {
		got := Sanitize(tt.input, tt.policy)
		if got != tt.expected {
			t.Errorf("Sanitize(%q, %s) = %q, want %q", tt.input, tt.policy, got, tt.expected)
		}
		if strings.ContainsAny(got, Forbidden) {
			t.Errorf("Sanitize(%q, %s) left a forbidden character: %q", tt.input, tt.policy, got)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("remove")
	require.NoError(t, err)
	require.Equal(t, PolicyRemove, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyReplace, p)

	_, err = ParsePolicy("strip")
	require.Error(t, err)
}

func TestRandomUniqueNameRejectsUnsafeCharset(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := RandomUniqueName(fs, "/out", "abc?", 8, 0)
	require.ErrorIs(t, err, ErrUnsafeCharset)

	_, err = RandomUniqueName(fs, "/out", "", 8, 0)
	require.ErrorIs(t, err, ErrUnsafeCharset)

	_, err = RandomUniqueName(fs, "/out", "abc", 0, 0)
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestRandomUniqueNameShape(t *testing.T) {
	fs := afero.NewMemMapFs()

	name, err := RandomUniqueName(fs, "/missing", DefaultCharset, DefaultLength, 0)
	require.NoError(t, err)
	require.Len(t, name, DefaultLength)
	for _, r := range name {
		require.True(t, strings.ContainsRune(DefaultCharset, r), "unexpected rune %q", r)
	}
}

func TestRandomUniqueNameAvoidsExisting(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/out"

	// "ab" x 4 gives 16 names; occupy all but one.
	var all []string
	for i := 0; i < 16; i++ {
		var b strings.Builder
		for bit := 3; bit >= 0; bit-- {
			if i&(1<<bit) != 0 {
				b.WriteByte('b')
			} else {
				b.WriteByte('a')
			}
		}
		all = append(all, b.String())
	}
	free := all[9]
	for _, n := range all {
		if n == free {
			continue
		}
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, n), []byte("x"), 0o644))
	}

	for i := 0; i < 20; i++ {
		name, err := RandomUniqueName(fs, dir, "ab", 4, 0)
		require.NoError(t, err)
		require.Equal(t, free, name)
	}
}

func TestRandomUniqueNameExhausted(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/out"
	for _, n := range []string{"aa", "ab", "ba", "bb"} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, n), nil, 0o644))
	}

	_, err := RandomUniqueName(fs, dir, "ab", 2, 50)
	require.ErrorIs(t, err, ErrNamesExhausted)
}

func TestRandomUniqueNameRepeated(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/out"
	seen := make(map[string]bool)

	for i := 0; i < 200; i++ {
		name, err := RandomUniqueName(fs, dir, "abc", 6, 0)
		require.NoError(t, err)
		require.False(t, seen[name], "name %q returned twice", name)
		seen[name] = true
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, name), nil, 0o644))
	}
}
