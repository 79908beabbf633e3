package ftpconn

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeConnRetrFromOffset(t *testing.T) {
	f := NewFakeConn()
	f.PutFile("/big.txt", []byte("0123456789"))

	r, err := f.RetrFrom("/big.txt", 4)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(data))
}

func TestFakeConnStorThenRetrRoundTrip(t *testing.T) {
	f := NewFakeConn()

	err := f.StorFrom("/new.txt", bytes.NewReader([]byte("hello")), 0)
	require.NoError(t, err)

	content, ok := f.FileContent("/new.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", string(content))
}

func TestFakeConnAppendExtends(t *testing.T) {
	f := NewFakeConn()
	f.PutFile("/a.txt", []byte("abc"))

	require.NoError(t, f.Append("/a.txt", bytes.NewReader([]byte("def"))))

	content, _ := f.FileContent("/a.txt")
	assert.Equal(t, "abcdef", string(content))
}

func TestFakeConnListReturnsDirAndFileEntries(t *testing.T) {
	f := NewFakeConn()
	f.PutFile("/dir/a.txt", []byte("x"))
	f.PutDir("/dir/sub")

	entries, err := f.List("/dir")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, EntryTypeFile, entries[0].Type)
	assert.Equal(t, "sub", entries[1].Name)
	assert.Equal(t, EntryTypeFolder, entries[1].Type)
}

func TestFakeConnDeleteAndGetEntry(t *testing.T) {
	f := NewFakeConn()
	f.PutFile("/gone.txt", []byte("x"))

	require.NoError(t, f.Delete("/gone.txt"))

	_, err := f.GetEntry("/gone.txt")
	assert.Error(t, err)
}

func TestFakeConnRenameMovesFile(t *testing.T) {
	f := NewFakeConn()
	f.PutFile("/old.txt", []byte("content"))

	require.NoError(t, f.Rename("/old.txt", "/new.txt"))

	_, ok := f.FileContent("/old.txt")
	assert.False(t, ok)
	content, ok := f.FileContent("/new.txt")
	require.True(t, ok)
	assert.Equal(t, "content", string(content))
}

func TestFakeConnSendSiteCommandRecordsVerb(t *testing.T) {
	f := NewFakeConn()
	f.PutFile("/x.txt", []byte("x"))

	require.NoError(t, f.SendSiteCommand("/", "SITE CHMOD 644 x.txt"))

	assert.Equal(t, []string{"SITE CHMOD 644 x.txt"}, f.SiteCommands())
}

func TestFakeConnSendSiteCommandRejectsMissingDir(t *testing.T) {
	f := NewFakeConn()

	err := f.SendSiteCommand("/nonexistent", "SITE CHMOD 644 x.txt")
	assert.Error(t, err)
}
