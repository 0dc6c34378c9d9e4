package creds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolAcquireRotates(t *testing.T) {
	p, err := New([]Credential{{Identity: "a"}, {Identity: "b"}, {Identity: "c"}})
	assert.NoError(t, err)

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, p.Acquire().Identity)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, got)
}

func TestNewRejectsEmptyPool(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestReloadRejectsEmpty(t *testing.T) {
	p, err := New([]Credential{{Identity: "a"}})
	assert.NoError(t, err)

	assert.Error(t, p.Reload(nil))
	assert.Equal(t, "a", p.Acquire().Identity, "pool should keep its previous contents after a rejected reload")
}

func TestReloadReplacesContents(t *testing.T) {
	p, err := New([]Credential{{Identity: "a"}})
	assert.NoError(t, err)

	assert.NoError(t, p.Reload([]Credential{{Identity: "x"}, {Identity: "y"}}))
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, "x", p.Acquire().Identity)
}

func TestLoadFileParsesAndSkipsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.txt")
	contents := "# comment\n\nalice secret1\nbob secret2\n"
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	got, err := LoadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, []Credential{{Identity: "alice", Secret: "secret1"}, {Identity: "bob", Secret: "secret2"}}, got)
}

func TestLoadFileRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.txt")
	assert.NoError(t, os.WriteFile(path, []byte("onlyoneword\n"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
