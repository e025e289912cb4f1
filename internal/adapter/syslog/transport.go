package syslog

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ErrMessageTooLarge is returned by a Transport for a datagram that exceeds
// its size limit.
var ErrMessageTooLarge = errors.New("message too large for transport")

// Transport writes single datagrams.
type Transport interface {
	Write(datagram []byte) error
}

// UDPTransport writes datagrams to a connected UDP socket.
type UDPTransport struct {
	conn    *net.UDPConn
	maxSize int
}

// DialUDP connects to addr. Datagrams longer than maxSize are rejected with
// ErrMessageTooLarge before reaching the socket.
func DialUDP(addr string, maxSize int) (*UDPTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &UDPTransport{conn: conn, maxSize: maxSize}, nil
}

func (t *UDPTransport) Write(datagram []byte) error {
	if t.maxSize > 0 && len(datagram) > t.maxSize {
		return fmt.Errorf("%d bytes exceeds limit of %d: %w", len(datagram), t.maxSize, ErrMessageTooLarge)
	}
	if _, err := t.conn.Write(datagram); err != nil {
		if errors.Is(err, unix.EMSGSIZE) {
			return fmt.Errorf("%d bytes rejected by socket: %w", len(datagram), ErrMessageTooLarge)
		}
		return err
	}
	return nil
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
