package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBackup(t *testing.T) {
	task := EncodeBackup([]string{"alice", "bob"}, BackupOptions{
		Options:   []string{"database", "email"},
		LocalPath: "/home/admin/admin_backups/migration-20260101",
		Owner:     "admin",
	})
	want := "action=backup&append_to_path=nothing&database_data_aware=yes&email_data_aware=yes" +
		"&local_path=%2Fhome%2Fadmin%2Fadmin_backups%2Fmigration-20260101" +
		"&option0=database&option1=email&owner=admin&select0=alice&select1=bob" +
		"&type=admin&value=multiple&what=select&when=now&where=local"
	assert.Equal(t, want, task.String())
	assert.Contains(t, task.String(), "select0=alice&select1=bob")
}

func TestEncodeRestore(t *testing.T) {
	artifacts := map[string]Artifact{
		"alice": {Account: "alice", Name: "TS.alice.tar.gz"},
		"bob":   {Account: "bob", Name: "TS.bob.tar.zst"},
	}
	opts := RestoreOptions{IP: "203.0.113.7", LocalPath: "/home/admin/admin_backups", Owner: "admin"}

	task, err := EncodeRestore([]string{"alice", "bob"}, artifacts, opts)
	require.NoError(t, err)
	want := "action=restore&ip_choice=select&ip=203.0.113.7" +
		"&local_path=%2Fhome%2Fadmin%2Fadmin_backups&owner=admin" +
		"&select0=TS%2Ealice%2Etar%2Egz&select1=TS%2Ebob%2Etar%2Ezst" +
		"&type=admin&value=multiple&when=now&where=local"
	assert.Equal(t, want, task.String())

	again, err := EncodeRestore([]string{"alice", "bob"}, artifacts, opts)
	require.NoError(t, err)
	assert.Equal(t, task, again, "encoding is deterministic")
}

func TestEncodeRestoreMissingArtifact(t *testing.T) {
	artifacts := map[string]Artifact{"alice": {Account: "alice", Name: "TS.alice.tar.gz"}}
	task, err := EncodeRestore([]string{"alice", "bob", "carol"}, artifacts, RestoreOptions{IP: "10.0.0.1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArtifactNotFound))
	assert.Contains(t, err.Error(), "bob, carol")
	assert.Empty(t, task)

	_, err = EncodeRestore([]string{"alice"}, artifacts, RestoreOptions{})
	assert.Error(t, err, "restore ip is required")
}

func TestPercentEncodingRoundTrip(t *testing.T) {
	paths := []string{"/home/admin/admin_backups", "/a b/c+d/ü", "relative/path"}
	for _, p := range paths {
		enc := EncodePath(p)
		assert.NotContains(t, enc, "/")
		dec, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, p, dec)
	}

	names := []string{"TS.alice.tar.gz", "admin.root.admin.bob.tar.zst", "no-dots"}
	for _, n := range names {
		enc := EncodeFilename(n)
		assert.NotContains(t, enc, ".")
		dec, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, n, dec)
	}
}

func TestParseTask(t *testing.T) {
	task := EncodeBackup([]string{"alice"}, BackupOptions{LocalPath: "/x/y", Owner: "admin"})
	fields, err := ParseTask(task)
	require.NoError(t, err)
	require.NotEmpty(t, fields)
	assert.Equal(t, [2]string{"action", "backup"}, fields[0])

	var localPath string
	for _, f := range fields {
		if f[0] == "local_path" {
			localPath = f[1]
		}
	}
	assert.Equal(t, "/x/y", localPath)

	_, err = ParseTask(Task("action=backup&broken"))
	assert.Error(t, err)
	_, err = ParseTask(Task("a=%zz"))
	assert.Error(t, err)
	assert.False(t, strings.Contains(task.String(), " "))
}
