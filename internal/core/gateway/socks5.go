package gateway

import (
	"fmt"
	"io"

	"m0n1t0r_go/internal/shared"
	"m0n1t0r_go/internal/shared/errors"
)

const socksVersion = 0x05

// 认证方法
const (
	methodNoAuth       byte = 0x00
	methodUserPass     byte = 0x02
	methodNoAcceptable byte = 0xFF
)

// 请求命令
const (
	cmdConnect      byte = 0x01
	cmdBind         byte = 0x02
	cmdUDPAssociate byte = 0x03
)

// 应答码
const (
	repSucceeded            byte = 0x00
	repGeneralFailure       byte = 0x01
	repConnectionRefused    byte = 0x05
	repCommandNotSupported  byte = 0x07
	repAddrTypeNotSupported byte = 0x08
)

type socksRequest struct {
	cmd  byte
	addr shared.Addr
}

// readGreeting 读取 VER | NMETHODS | METHODS
func readGreeting(r io.Reader) ([]byte, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Io("read greeting").Base(err)
	}
	if header[0] != socksVersion {
		return nil, errors.Socks5(fmt.Sprintf("unsupported version 0x%02x", header[0]))
	}
	methods := make([]byte, int(header[1]))
	if _, err := io.ReadFull(r, methods); err != nil {
		return nil, errors.Io("read methods").Base(err)
	}
	return methods, nil
}

// readRequest 读取 VER | CMD | RSV | ATYP | DST.ADDR | DST.PORT
// An unknown ATYP yields a shared.AddrTypeError inside the returned error.
func readRequest(r io.Reader) (socksRequest, error) {
	header := make([]byte, 3)
	if _, err := io.ReadFull(r, header); err != nil {
		return socksRequest{}, errors.Io("read request").Base(err)
	}
	if header[0] != socksVersion {
		return socksRequest{}, errors.Socks5(fmt.Sprintf("unsupported version 0x%02x", header[0]))
	}
	req := socksRequest{cmd: header[1]}
	addr, err := shared.ReadAddr(r)
	if err != nil {
		return req, errors.Socks5("read destination").Base(err)
	}
	req.addr = addr
	return req, nil
}

// writeReply 发送应答，绑定地址总是 0.0.0.0:0
func writeReply(w io.Writer, rep byte) error {
	_, err := w.Write([]byte{socksVersion, rep, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	return err
}

func commandName(cmd byte) string {
	switch cmd {
	case cmdConnect:
		return "CONNECT"
	case cmdBind:
		return "BIND"
	case cmdUDPAssociate:
		return "UDP ASSOCIATE"
	default:
		return fmt.Sprintf("0x%02x", cmd)
	}
}
