package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageChain(t *testing.T) {
	err := Network("agent connect failed").Base(io.ErrUnexpectedEOF)
	assert.Equal(t, "agent connect failed > unexpected EOF", err.Error())
	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, io.ErrUnexpectedEOF, Cause(err))
}

func TestKindOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("open forward: %w", Forbidden("bad credentials"))
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.True(t, Is(err, KindForbidden))
	assert.False(t, Is(err, KindNetwork))
	assert.Equal(t, KindGeneric, KindOf(io.EOF))
}

func TestKindOuterWins(t *testing.T) {
	err := Io("bind failed").Base(Network("inner"))
	assert.Equal(t, KindIo, KindOf(err))
	assert.True(t, Is(err, KindNetwork))
}

func TestKindStatusAndCode(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
		code   int
	}{
		{KindNetwork, http.StatusBadGateway, -3},
		{KindSocks5, http.StatusBadGateway, -13},
		{KindForbidden, http.StatusForbidden, -14},
		{KindNotFound, http.StatusNotFound, -2},
		{KindParse, http.StatusBadRequest, -9},
		{KindIo, http.StatusInternalServerError, -7},
		{KindGeneric, http.StatusInternalServerError, -16},
	}
	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			assert.Equal(t, c.status, c.kind.Status())
			assert.Equal(t, c.code, c.kind.Code())
		})
	}
}

func TestCauseNil(t *testing.T) {
	assert.Nil(t, Cause(nil))
	e := New(KindGeneric, "leaf")
	assert.Equal(t, error(e), Cause(e))
}
