package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCommand_SimpleArray(t *testing.T) {
	r := NewReader(bytes.NewBufferString("*2\r\n$4\r\nECHO\r\n$5\r\nhello\r\n"))
	cmd, _, err := r.ReadCommand()
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.Equal(t, []string{"ECHO", "hello"}, cmd.Args)
}

func TestReadCommand_Pipelined(t *testing.T) {
	r := NewReader(bytes.NewBufferString("*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n"))
	cmd1, _, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, cmd1.Args)

	cmd2, _, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, cmd2.Args)
}

func TestReadCommand_BareBulkPing(t *testing.T) {
	r := NewReader(bytes.NewBufferString("$4\r\nping\r\n"))
	cmd, raw, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Nil(t, cmd)
	require.NotNil(t, raw)
	assert.Equal(t, KindBulkString, raw.Kind)
	assert.Equal(t, "ping", string(raw.Bulk))
}

func TestReadCommand_NullBulkArg(t *testing.T) {
	r := NewReader(bytes.NewBufferString("*2\r\n$3\r\nGET\r\n$-1\r\n"))
	cmd, raw, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, KindArray, raw.Kind)
	assert.True(t, raw.Items[1].Null)
}

func TestReadCommand_InlinePing(t *testing.T) {
	r := NewReader(bytes.NewBufferString("PING\r\n"))
	cmd, _, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, cmd.Args)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	encoded := EncodeCommand([]string{"SET", "foo", "bar"})
	r := NewReader(bytes.NewReader(encoded))
	cmd, _, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"SET", "foo", "bar"}, cmd.Args)
}

func TestEncodeBulkString(t *testing.T) {
	assert.Equal(t, []byte("$5\r\nhello\r\n"), EncodeBulkString("hello"))
	assert.Equal(t, []byte("$-1\r\n"), EncodeNullBulkString())
}

func TestEncodeInteger(t *testing.T) {
	assert.Equal(t, []byte(":42\r\n"), EncodeInteger(42))
	assert.Equal(t, []byte(":-1\r\n"), EncodeInteger(-1))
}

func TestEncodeBulkHeaderNoTrailingCRLF(t *testing.T) {
	h := EncodeBulkHeader(10)
	assert.Equal(t, []byte("$10\r\n"), h)
}

func TestArrayNestingDepth(t *testing.T) {
	// Array of arrays of bulk strings (depth 2) must parse.
	r := NewReader(bytes.NewBufferString("*1\r\n*2\r\n$1\r\na\r\n$1\r\nb\r\n"))
	f, err := r.ReadFrame()
	require.NoError(t, err)
	require.Len(t, f.Items, 1)
	assert.Equal(t, KindArray, f.Items[0].Kind)
}
