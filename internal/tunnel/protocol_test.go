package tunnel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m0n1t0r_go/internal/shared"
)

func TestRequestWireForms(t *testing.T) {
	addr, err := shared.ParseAddr("127.0.0.1:8080")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeRequest(&buf, request{cmd: cmdConnect, addr: addr}))
	assert.Equal(t, []byte{0x01, 0x01, 127, 0, 0, 1, 0x1f, 0x90}, buf.Bytes())

	buf.Reset()
	require.NoError(t, writeRequest(&buf, request{cmd: cmdForwarded, id: 7, addr: addr}))
	assert.Equal(t, []byte{0x03, 0, 0, 0, 7, 0x01, 127, 0, 0, 1, 0x1f, 0x90}, buf.Bytes())

	req, err := readRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), req.id)
	assert.Equal(t, "127.0.0.1:8080", req.addr.String())
}

func TestReadRequestUnknownCommand(t *testing.T) {
	_, err := readRequest(bytes.NewReader([]byte{0x09}))
	assert.Error(t, err)
}

func TestReplyTruncatesMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReply(&buf, statusFailure, strings.Repeat("x", 300)))
	rep, err := readReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, statusFailure, rep.status)
	assert.Len(t, rep.message, 255)
}
