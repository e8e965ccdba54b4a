package rdb

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shortString encodes s with a 6-bit length prefix, valid for the short
// ASCII keys/values these tests use.
func shortString(s string) []byte {
	out := []byte{byte(len(s))}
	return append(out, s...)
}

func buildRDB(t *testing.T, expireAtMs int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(RDBMagicString)
	buf.WriteString("0011")

	buf.WriteByte(OpCodeAux)
	buf.Write(shortString("redis-ver"))
	buf.Write(shortString("7.2.0"))

	buf.WriteByte(OpCodeSelectDB)
	buf.WriteByte(0x00)

	buf.WriteByte(OpCodeResizeDB)
	buf.WriteByte(0x02)
	buf.WriteByte(0x00)

	buf.WriteByte(TypeString)
	buf.Write(shortString("foo"))
	buf.Write(shortString("bar"))

	if expireAtMs > 0 {
		buf.WriteByte(OpCodeExpireTimeMS)
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(expireAtMs)))
	}
	buf.WriteByte(TypeString)
	buf.Write(shortString("expiring"))
	buf.Write(shortString("soon"))

	buf.WriteByte(OpCodeEOF)
	return buf.Bytes()
}

func writeTempRDB(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.rdb")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoaderParsesStringRecordsAndExpiry(t *testing.T) {
	path := writeTempRDB(t, buildRDB(t, 9999999999999))
	cmds, err := NewLoader(path).Load()
	require.NoError(t, err)
	require.Len(t, cmds, 2)

	assert.Equal(t, "foo", cmds[0].Key)
	assert.Equal(t, "bar", cmds[0].Value)
	assert.Equal(t, int64(0), cmds[0].ExpireAtMs)

	assert.Equal(t, "expiring", cmds[1].Key)
	assert.Equal(t, "soon", cmds[1].Value)
	assert.Equal(t, int64(9999999999999), cmds[1].ExpireAtMs)
}

func TestLoaderMissingFileIsNotAnError(t *testing.T) {
	cmds, err := NewLoader(filepath.Join(t.TempDir(), "nope.rdb")).Load()
	require.NoError(t, err)
	assert.Nil(t, cmds)
}

func TestLoaderRejectsBadMagic(t *testing.T) {
	path := writeTempRDB(t, []byte("GARBAGE0011"))
	_, err := NewLoader(path).Load()
	assert.Error(t, err)
}

func TestEmptyRDBDecodesAsValidSnapshot(t *testing.T) {
	payload := EmptyRDB()
	require.NotEmpty(t, payload)
	assert.Equal(t, RDBMagicString, string(payload[:5]))
}
