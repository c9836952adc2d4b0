package digest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"", None, false},
		{"SHA-1", SHA1, false},
		{"sha1", SHA1, false},
		{"Sha_256", SHA256, false},
		{"md5", MD5, false},
		{"BLAKE3", BLAKE3, false},
		{"crc32", None, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKnownDigests(t *testing.T) {
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", String("abc", SHA1))
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", String("abc", MD5))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", String("abc", SHA256))
	assert.Len(t, String("abc", BLAKE3), 64)
	assert.Equal(t, "", String("abc", None))
	assert.Nil(t, None.New())
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("00ab12", "AB12"))
	assert.True(t, Match("ab12", "0000ab12"))
	assert.False(t, Match("ab12", "ab13"))
	assert.True(t, Match("", "000"))
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	got, err := File(path, SHA1)
	require.NoError(t, err)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", got)

	_, err = File(path, None)
	assert.Error(t, err)
	_, err = File(filepath.Join(t.TempDir(), "missing"), SHA1)
	assert.Error(t, err)
}
