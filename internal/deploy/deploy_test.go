package deploy

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/packsync/internal/digest"
	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
	"github.com/ZebulonRouseFrantzich/packsync/internal/manifest"
)

func stage(t *testing.T, dir string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, "_staged")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func encode(t *testing.T, c manifest.Compression, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch c {
	case manifest.CompressionGzip:
		w := gzip.NewWriter(&buf)
		w.Write(data)
		require.NoError(t, w.Close())
	case manifest.CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		return enc.EncodeAll(data, nil)
	case manifest.CompressionLZ4:
		w := lz4.NewWriter(&buf)
		w.Write(data)
		require.NoError(t, w.Close())
	default:
		return data
	}
	return buf.Bytes()
}

func TestDeployCompressedFile(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog\n")

	tests := []manifest.Compression{
		manifest.CompressionNone,
		manifest.CompressionGzip,
		manifest.CompressionZstd,
		manifest.CompressionLZ4,
	}

	for _, c := range tests {
		t.Run(string(c), func(t *testing.T) {
			root := t.TempDir()
			staged := stage(t, t.TempDir(), encode(t, c, content))
			dest := filepath.Join(root, "lib", "nested", "core.dat")

			ids, err := New(nil, nil).Deploy(Request{
				Policy:     manifest.Policy{Identity: "lib/nested/core.dat", Dest: dest, Compression: c, Kind: manifest.KindFile},
				Root:       root,
				StagedPath: staged,
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"lib/nested/core.dat"}, ids)

			got, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, content, got)
			assert.FileExists(t, staged, "the staged file stays until the pass commits")
		})
	}
}

func TestDeployKeepsExistingMode(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "tool")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0755))

	_, err := New(nil, nil).Deploy(Request{
		Policy:     manifest.Policy{Identity: "tool", Dest: dest, Kind: manifest.KindFile},
		Root:       root,
		StagedPath: stage(t, t.TempDir(), []byte("new")),
	})
	require.NoError(t, err)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestDeployPreserve(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "config.txt")
	require.NoError(t, os.WriteFile(dest, []byte("user edits"), 0644))

	policy := manifest.Policy{Identity: "config.txt", Dest: dest, Kind: manifest.KindFile, Preserve: true}
	ids, err := New(nil, nil).Deploy(Request{Policy: policy, Root: root, StagedPath: stage(t, t.TempDir(), []byte("default"))})
	require.NoError(t, err)
	assert.Equal(t, []string{"config.txt"}, ids)

	got, _ := os.ReadFile(dest)
	assert.Equal(t, "user edits", string(got))

	require.NoError(t, os.Remove(dest))
	_, err = New(nil, nil).Deploy(Request{Policy: policy, Root: root, StagedPath: stage(t, t.TempDir(), []byte("default"))})
	require.NoError(t, err)
	got, _ = os.ReadFile(dest)
	assert.Equal(t, "default", string(got))
}

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	link     string
}

func makeTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.body)), Typeflag: e.typeflag, Linkname: e.link}
		if e.typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			tw.Write([]byte(e.body))
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestDeployArchive(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "plugins")
	archive := makeTar(t, []tarEntry{
		{name: "a/", typeflag: tar.TypeDir},
		{name: "a/one.so", body: "one"},
		{name: "two.so", body: "two"},
		{name: "current", typeflag: tar.TypeSymlink, link: "two.so"},
	})

	ids, err := New(nil, nil).Deploy(Request{
		Policy:     manifest.Policy{Identity: "plugins", Dest: dest, Kind: manifest.KindArchive, Compression: manifest.CompressionGzip},
		Root:       root,
		StagedPath: stage(t, t.TempDir(), encode(t, manifest.CompressionGzip, archive)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"plugins/a/one.so", "plugins/two.so", "plugins/current"}, ids)

	got, err := os.ReadFile(filepath.Join(dest, "a", "one.so"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	link, err := os.Readlink(filepath.Join(dest, "current"))
	require.NoError(t, err)
	assert.Equal(t, "two.so", link)
}

func TestDeployArchiveRejectsTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry tarEntry
	}{
		{"dotdot_file", tarEntry{name: "../../evil", body: "x"}},
		{"escaping_symlink", tarEntry{name: "link", typeflag: tar.TypeSymlink, link: "../../etc/passwd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			_, err := New(nil, nil).Deploy(Request{
				Policy:     manifest.Policy{Identity: "pkg", Dest: filepath.Join(root, "pkg"), Kind: manifest.KindArchive},
				Root:       root,
				StagedPath: stage(t, t.TempDir(), makeTar(t, []tarEntry{tt.entry})),
			})
			require.Error(t, err)
			assert.True(t, uerrors.IsErrorCode(err, uerrors.ErrDeploy))
		})
	}
}

func TestDeployDelta(t *testing.T) {
	oldContent := []byte("version one of the tool binary")
	newContent := []byte("version two of the tool binary, now longer")
	patch, err := bsdiff.Bytes(oldContent, newContent)
	require.NoError(t, err)

	tests := []struct {
		name     string
		base     []byte
		checksum string
		wantErr  bool
	}{
		{"matching_base", oldContent, digest.String(string(newContent), digest.SHA256), false},
		{"no_checksum", oldContent, "", false},
		{"drifted_base", []byte("VERSION ONE of the tool binary"), digest.String(string(newContent), digest.SHA256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dest := filepath.Join(root, "bin", "tool")
			require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0755))
			require.NoError(t, os.WriteFile(dest, tt.base, 0644))

			_, err := New(nil, nil).Deploy(Request{
				Policy: manifest.Policy{
					Identity: "bin/tool", Dest: dest, Kind: manifest.KindFile,
					Checksum: tt.checksum, ChecksumAlg: digest.SHA256,
				},
				Root:       root,
				StagedPath: stage(t, t.TempDir(), patch),
				Delta:      true,
			})

			got, rerr := os.ReadFile(dest)
			require.NoError(t, rerr)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDeltaMismatch)
				assert.True(t, uerrors.IsErrorCode(err, uerrors.ErrVerification))
				assert.Equal(t, tt.base, got, "a mismatched patch result is never installed")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, newContent, got)
		})
	}
}

func TestDeployChecksum(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "data.bin")
	content := []byte("payload")

	_, err := New(nil, nil).Deploy(Request{
		Policy: manifest.Policy{
			Identity: "data.bin", Dest: dest, Kind: manifest.KindFile,
			Checksum: digest.String("other payload", digest.SHA1), ChecksumAlg: digest.SHA1,
		},
		Root:       root,
		StagedPath: stage(t, t.TempDir(), content),
	})
	require.Error(t, err)
	assert.True(t, uerrors.IsErrorCode(err, uerrors.ErrVerification))
	assert.NotErrorIs(t, err, ErrDeltaMismatch)
	assert.NoFileExists(t, dest)

	_, err = New(nil, nil).Deploy(Request{
		Policy: manifest.Policy{
			Identity: "data.bin", Dest: dest, Kind: manifest.KindFile,
			Checksum: digest.String("payload", digest.SHA1), ChecksumAlg: digest.SHA1,
		},
		Root:       root,
		StagedPath: stage(t, t.TempDir(), content),
	})
	require.NoError(t, err)
	assert.FileExists(t, dest)
}

func TestDeploySigned(t *testing.T) {
	signer, err := openpgp.NewEntity("Release", "", "release@example.com", nil)
	require.NoError(t, err)
	other, err := openpgp.NewEntity("Other", "", "other@example.com", nil)
	require.NoError(t, err)

	content := []byte("signed payload")
	var sig bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(content), nil))

	tests := []struct {
		name    string
		keyring openpgp.EntityList
		body    []byte
		wantErr bool
	}{
		{"valid_signature", openpgp.EntityList{signer}, content, false},
		{"wrong_key", openpgp.EntityList{other}, content, true},
		{"tampered_content", openpgp.EntityList{signer}, []byte("tampered payload"), true},
		{"no_keyring", nil, content, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			stagingDir := t.TempDir()
			dest := filepath.Join(root, "app.bin")
			sigPath := filepath.Join(stagingDir, "_sig")
			require.NoError(t, os.WriteFile(sigPath, sig.Bytes(), 0644))

			_, err := New(tt.keyring, nil).Deploy(Request{
				Policy:        manifest.Policy{Identity: "app.bin", Dest: dest, Kind: manifest.KindFile, Signed: true},
				Root:          root,
				StagedPath:    stage(t, stagingDir, tt.body),
				SignaturePath: sigPath,
			})

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, uerrors.IsErrorCode(err, uerrors.ErrVerification))
				assert.NoFileExists(t, dest)
				entries, _ := os.ReadDir(root)
				assert.Empty(t, entries, "no temporary file is left behind")
				return
			}
			require.NoError(t, err)
			assert.FileExists(t, dest)
		})
	}
}

func TestLoadKeyring(t *testing.T) {
	entity, err := openpgp.NewEntity("Release", "", "release@example.com", nil)
	require.NoError(t, err)

	dir := t.TempDir()
	binaryPath := filepath.Join(dir, "keyring.gpg")
	var buf bytes.Buffer
	require.NoError(t, entity.Serialize(&buf))
	require.NoError(t, os.WriteFile(binaryPath, buf.Bytes(), 0644))

	keyring, err := LoadKeyring(binaryPath)
	require.NoError(t, err)
	assert.Len(t, keyring, 1)

	_, err = LoadKeyring(filepath.Join(dir, "missing.gpg"))
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "old", "plugins", "plugin.jar")
	sibling := filepath.Join(root, "old", "keep.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(nested), 0755))
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(sibling, []byte("y"), 0644))

	require.NoError(t, Remove(root, "old/plugins/plugin.jar"))
	assert.NoFileExists(t, nested)
	assert.NoDirExists(t, filepath.Join(root, "old", "plugins"))
	assert.FileExists(t, sibling)
	assert.DirExists(t, root)

	require.NoError(t, Remove(root, "old/plugins/plugin.jar"), "already gone is fine")
	assert.Error(t, Remove(root, "../outside"))
}
