package shared

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrWireForms(t *testing.T) {
	cases := []struct {
		in   string
		typ  byte
		wire []byte
	}{
		{"10.1.2.3:80", AddrTypeIPv4, []byte{0x01, 10, 1, 2, 3, 0x00, 0x50}},
		{"example.com:443", AddrTypeDomain, append(append([]byte{0x03, 11}, "example.com"...), 0x01, 0xbb)},
		{"[::1]:22", AddrTypeIPv6, []byte{0x04, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0x00, 0x16}},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			a, err := ParseAddr(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.typ, a.Type)
			assert.Equal(t, c.wire, AppendAddr(nil, a))

			back, err := ReadAddr(bytes.NewReader(c.wire))
			require.NoError(t, err)
			assert.Equal(t, c.in, back.String())
		})
	}
}

func TestReadAddrUnknownType(t *testing.T) {
	_, err := ReadAddr(bytes.NewReader([]byte{0x09, 1, 2}))
	var typeErr AddrTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, byte(0x09), byte(typeErr))
}

func TestParseAddrRejectsGarbage(t *testing.T) {
	for _, in := range []string{"nohost", "host:99999", ":80"} {
		_, err := ParseAddr(in)
		assert.Error(t, err, in)
	}
}
