package tunnel

import (
	"encoding/binary"
	"fmt"
	"io"

	"m0n1t0r_go/internal/shared"
)

// Every yamux stream starts with a one byte command.
//
//	connect   (server → agent): cmd | addr                  reply: status
//	forward   (server → agent): cmd | id(u32) | addr        reply: status, then the stream is the control channel
//	forwarded (agent → server): cmd | id(u32) | peer addr   no reply, data follows
//
// addr is the SOCKS form ATYP | ADDR | PORT. A reply is status | len | message.
const (
	cmdConnect   byte = 0x01
	cmdForward   byte = 0x02
	cmdForwarded byte = 0x03
)

const (
	statusOK      byte = 0x00
	statusRefused byte = 0x01
	statusFailure byte = 0x02
)

type request struct {
	cmd  byte
	id   uint32
	addr shared.Addr
}

func writeRequest(w io.Writer, req request) error {
	buf := []byte{req.cmd}
	if req.cmd != cmdConnect {
		buf = binary.BigEndian.AppendUint32(buf, req.id)
	}
	buf = shared.AppendAddr(buf, req.addr)
	_, err := w.Write(buf)
	return err
}

func readRequest(r io.Reader) (request, error) {
	var head [1]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return request{}, err
	}
	req := request{cmd: head[0]}
	switch req.cmd {
	case cmdConnect:
	case cmdForward, cmdForwarded:
		var id [4]byte
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return request{}, err
		}
		req.id = binary.BigEndian.Uint32(id[:])
	default:
		return request{}, fmt.Errorf("unknown tunnel command 0x%02x", req.cmd)
	}
	addr, err := shared.ReadAddr(r)
	if err != nil {
		return request{}, err
	}
	req.addr = addr
	return req, nil
}

type reply struct {
	status  byte
	message string
}

func writeReply(w io.Writer, status byte, message string) error {
	if len(message) > 255 {
		message = message[:255]
	}
	buf := append([]byte{status, byte(len(message))}, message...)
	_, err := w.Write(buf)
	return err
}

func readReply(r io.Reader) (reply, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return reply{}, err
	}
	msg := make([]byte, head[1])
	if _, err := io.ReadFull(r, msg); err != nil {
		return reply{}, err
	}
	return reply{status: head[0], message: string(msg)}, nil
}
