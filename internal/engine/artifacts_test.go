package engine

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/hostmigrate/internal/types"
)

func TestResolveArtifacts(t *testing.T) {
	fsys := fstest.MapFS{
		"TS.alice.tar.gz":     {Data: []byte("x")},
		"TS.bob.tar.zst":      {Data: []byte("x")},
		"TS.carol.tar.gz":     {Data: nil},
		"TS.dave.tar.gz":      {Data: []byte("x")},
		"TS2.dave.tar.xz":     {Data: []byte("x")},
		"TS.jimbob.tar.gz":    {Data: []byte("x")},
		".erin.tar.gz":        {Data: []byte("x")},
		"TS.frank.tar.lz4":    {Data: []byte("x")},
		"TS.gina.tar.gz.part": {Data: []byte("x")},
	}

	found, err := ResolveArtifacts(fsys, []string{"alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, "TS.alice.tar.gz", found["alice"].Name)
	assert.Equal(t, types.CompressionGzip, found["alice"].Compression)
	assert.Equal(t, "TS.bob.tar.zst", found["bob"].Name)
	assert.Equal(t, types.CompressionZstd, found["bob"].Compression)
	assert.EqualValues(t, 2, TotalSize(found))

	found, err = ResolveArtifacts(fsys, []string{"alice", "carol", "dave", "erin", "frank", "gina", "bob"})
	require.Error(t, err)
	assert.Len(t, found, 2)
	assert.True(t, errors.Is(err, ErrArtifactNotFound))
	assert.True(t, errors.Is(err, ErrAmbiguousArtifact))
	assert.Contains(t, err.Error(), "TS.dave.tar.gz, TS2.dave.tar.xz")
	for _, id := range []string{"carol", "erin", "frank", "gina"} {
		assert.Contains(t, err.Error(), "artifact not found: "+id)
	}
}

func TestFindArtifact(t *testing.T) {
	fsys := fstest.MapFS{"admin.root.admin.bob.tar.bz2": {Data: []byte("x")}}
	a, err := FindArtifact(fsys, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.CompressionBzip2, a.Compression)

	_, err = FindArtifact(fsys, "alice")
	assert.True(t, errors.Is(err, ErrArtifactNotFound))
}

func tarBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("username=alice\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "backup/user.conf", Mode: 0o600, Size: int64(len(body))}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestProbeArtifact(t *testing.T) {
	dir := t.TempDir()
	raw := tarBytes(t)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var zs bytes.Buffer
	zw, err := zstd.NewWriter(&zs)
	require.NoError(t, err)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tests := []struct {
		name    string
		data    []byte
		comp    types.CompressionType
		wantErr bool
	}{
		{"TS.a.tar.gz", gz.Bytes(), types.CompressionGzip, false},
		{"TS.b.tar.zst", zs.Bytes(), types.CompressionZstd, false},
		{"TS.c.tar.xz", append(append([]byte{}, xzMagic...), 0, 0), types.CompressionXZ, false},
		{"TS.d.tar.gz", []byte("not gzip at all"), types.CompressionGzip, true},
		{"TS.e.tar.zst", []byte("not zstd at all"), types.CompressionZstd, true},
		{"TS.f.tar.xz", []byte("plain"), types.CompressionXZ, true},
		{"TS.g.tar.bz2", []byte("BZh9 garbage"), types.CompressionBzip2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name, tt.data)
			err := ProbeArtifact(path, tt.comp)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrCorruptArtifact), "err=%v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, ProbeArtifact(filepath.Join(dir, "missing.tar.gz"), types.CompressionGzip))
	assert.Error(t, ProbeArtifact(writeFile(t, dir, "x", gz.Bytes()), types.CompressionType("lz4")))
}
