// Package syslog frames messages as "<PRI>payload\0" datagrams, sends them
// with fragment-on-oversize retries, and decodes and classifies datagrams on
// the receiving side.
package syslog

import (
	"errors"
	"strconv"
)

// ErrMalformedHeader is returned by Decode when a datagram lacks a valid
// "<PRI>" header.
var ErrMalformedHeader = errors.New("malformed syslog header")

const maxPRI = 255

// Encode frames payload with its PRI header and a NUL terminator.
func Encode(facility, priority int, payload string) []byte {
	pri := facility<<3 | priority&0x07
	buf := make([]byte, 0, len(payload)+6)
	buf = append(buf, '<')
	buf = strconv.AppendInt(buf, int64(pri), 10)
	buf = append(buf, '>')
	buf = append(buf, payload...)
	return append(buf, 0)
}

// Decode splits a datagram into facility, priority and payload. One trailing
// NUL is stripped.
func Decode(datagram []byte) (facility, priority int, payload string, err error) {
	if len(datagram) < 3 || datagram[0] != '<' {
		return 0, 0, "", ErrMalformedHeader
	}

	end := -1
	for i := 1; i < len(datagram) && i <= 4; i++ {
		if datagram[i] == '>' {
			end = i
			break
		}
		if datagram[i] < '0' || datagram[i] > '9' {
			return 0, 0, "", ErrMalformedHeader
		}
	}
	if end <= 1 {
		return 0, 0, "", ErrMalformedHeader
	}

	pri, err := strconv.Atoi(string(datagram[1:end]))
	if err != nil || pri > maxPRI {
		return 0, 0, "", ErrMalformedHeader
	}

	body := datagram[end+1:]
	if n := len(body); n > 0 && body[n-1] == 0 {
		body = body[:n-1]
	}
	return (pri & 0xf8) >> 3, pri & 0x07, string(body), nil
}
