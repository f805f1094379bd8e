package gateway

import (
	"bytes"
	"crypto/subtle"
	"io"

	"m0n1t0r_go/internal/shared/errors"
)

// Authenticator is the SOCKS5 method a gateway insists on.
type Authenticator interface {
	Method() byte
	// Name is shown in session summaries.
	Name() string
	// Authenticate runs the method's sub-negotiation after it was selected.
	Authenticate(rw io.ReadWriter) error
}

// NoAuth accepts every client.
type NoAuth struct{}

func (NoAuth) Method() byte                     { return methodNoAuth }
func (NoAuth) Name() string                     { return "none" }
func (NoAuth) Authenticate(io.ReadWriter) error { return nil }

// UserPass is RFC 1929 username/password authentication.
type UserPass struct {
	Username string
	Password string
}

func (UserPass) Method() byte { return methodUserPass }
func (UserPass) Name() string { return "password" }

const (
	userPassVersion byte = 0x01
	userPassOK      byte = 0x00
	userPassFailure byte = 0x01
)

func (u UserPass) Authenticate(rw io.ReadWriter) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(rw, header); err != nil {
		return errors.Io("read credentials").Base(err)
	}
	if header[0] != userPassVersion {
		return errors.Socks5("unsupported auth version")
	}
	name := make([]byte, int(header[1]))
	if _, err := io.ReadFull(rw, name); err != nil {
		return errors.Io("read username").Base(err)
	}
	plen := make([]byte, 1)
	if _, err := io.ReadFull(rw, plen); err != nil {
		return errors.Io("read password length").Base(err)
	}
	pass := make([]byte, int(plen[0]))
	if _, err := io.ReadFull(rw, pass); err != nil {
		return errors.Io("read password").Base(err)
	}

	nameOK := subtle.ConstantTimeCompare(name, []byte(u.Username))
	passOK := subtle.ConstantTimeCompare(pass, []byte(u.Password))
	if nameOK&passOK != 1 {
		_, _ = rw.Write([]byte{userPassVersion, userPassFailure})
		return errors.Forbidden("invalid credentials for ", string(bytes.ToValidUTF8(name, nil)))
	}
	_, err := rw.Write([]byte{userPassVersion, userPassOK})
	return err
}

// handshake selects a's method from the client's offer and runs it.
func handshake(rw io.ReadWriter, a Authenticator) error {
	methods, err := readGreeting(rw)
	if err != nil {
		return err
	}
	if bytes.IndexByte(methods, a.Method()) < 0 {
		_, _ = rw.Write([]byte{socksVersion, methodNoAcceptable})
		return errors.Socks5("client offered no acceptable method")
	}
	if _, err := rw.Write([]byte{socksVersion, a.Method()}); err != nil {
		return errors.Io("write method selection").Base(err)
	}
	return a.Authenticate(rw)
}
