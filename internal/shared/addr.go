package shared

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
)

// SOCKS 风格的地址类型
const (
	AddrTypeIPv4   byte = 0x01
	AddrTypeDomain byte = 0x03
	AddrTypeIPv6   byte = 0x04
)

// Addr is a decoded ATYP|ADDR|PORT triple.
type Addr struct {
	Type byte
	Host string
	Port int
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsDomain reports whether Host still needs resolving.
func (a Addr) IsDomain() bool { return a.Type == AddrTypeDomain }

// AddrTypeError is returned when the ATYP byte is not one we know.
type AddrTypeError byte

func (e AddrTypeError) Error() string {
	return fmt.Sprintf("unsupported address type: 0x%02x", byte(e))
}

// ParseAddr splits host:port and picks the address type.
func ParseAddr(target string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return Addr{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 0xffff {
		return Addr{}, fmt.Errorf("invalid port in %q", target)
	}
	a := Addr{Type: AddrTypeDomain, Host: host, Port: port}
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() != nil {
			a.Type = AddrTypeIPv4
		} else {
			a.Type = AddrTypeIPv6
		}
	} else if len(host) == 0 || len(host) > 255 {
		return Addr{}, fmt.Errorf("invalid host in %q", target)
	}
	return a, nil
}

// AppendAddr appends the wire form of a to buf.
func AppendAddr(buf []byte, a Addr) []byte {
	buf = append(buf, a.Type)
	switch a.Type {
	case AddrTypeIPv4:
		buf = append(buf, net.ParseIP(a.Host).To4()...)
	case AddrTypeIPv6:
		buf = append(buf, net.ParseIP(a.Host).To16()...)
	default:
		buf = append(buf, byte(len(a.Host)))
		buf = append(buf, a.Host...)
	}
	return binary.BigEndian.AppendUint16(buf, uint16(a.Port))
}

// ReadAddr reads ATYP|ADDR|PORT from r.
func ReadAddr(r io.Reader) (Addr, error) {
	var atyp [1]byte
	if _, err := io.ReadFull(r, atyp[:]); err != nil {
		return Addr{}, err
	}
	a := Addr{Type: atyp[0]}
	switch a.Type {
	case AddrTypeIPv4, AddrTypeIPv6:
		size := net.IPv4len
		if a.Type == AddrTypeIPv6 {
			size = net.IPv6len
		}
		ip := make([]byte, size)
		if _, err := io.ReadFull(r, ip); err != nil {
			return Addr{}, err
		}
		a.Host = net.IP(ip).String()
	case AddrTypeDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return Addr{}, err
		}
		domain := make([]byte, l[0])
		if _, err := io.ReadFull(r, domain); err != nil {
			return Addr{}, err
		}
		a.Host = string(domain)
	default:
		return Addr{}, AddrTypeError(a.Type)
	}
	var port [2]byte
	if _, err := io.ReadFull(r, port[:]); err != nil {
		return Addr{}, err
	}
	a.Port = int(binary.BigEndian.Uint16(port[:]))
	return a, nil
}
