/*
 * Copyright (c) 2026, ss-local-core Project
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package local

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	sserrors "github.com/Psiphon-Labs/ss-local-core/common/errors"
)

const (
	socksVersion5 = 0x05

	socksMethodNoAuth       = 0x00
	socksMethodNoAcceptable = 0xFF

	socksCmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	repSucceeded           = 0x00
	repGeneralFailure      = 0x01
	repCommandNotSupported = 0x07
	repAtypNotSupported    = 0x08
)

// TargetAddress is the destination a SOCKS5 CONNECT request named,
// carried forward in both a human-readable form (for logging) and the
// exact [ATYP|ADDR|PORT] wire slice the remote relay expects to see as
// the first bytes of the encrypted stream.
type TargetAddress struct {
	Host string
	Port uint16
	Raw  []byte
}

func (t TargetAddress) String() string {
	return net.JoinHostPort(t.Host, fmt.Sprintf("%d", t.Port))
}

// successReply is the fixed SOCKS5 success reply this package sends:
// REP=succeeded, a placeholder BND.ADDR/BND.PORT of 0.0.0.0:0, since
// the local proxy never actually binds a distinct address for the
// relayed connection.
var successReply = []byte{socksVersion5, repSucceeded, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}

// Negotiate drives the SOCKS5 greeting and CONNECT request described in
// spec.md §4.3 to completion on conn. On success it returns the
// requested TargetAddress; the caller is responsible for sending the
// success reply once the remote tunnel is actually established.
//
// On failure, Negotiate has already written whatever negative SOCKS5
// reply the protocol calls for (or none, if the failure precedes the
// version byte becoming known) and returns an ErrSocksProtocol; the
// caller need only close conn.
func Negotiate(conn net.Conn) (TargetAddress, error) {
	if err := negotiateMethod(conn); err != nil {
		return TargetAddress{}, err
	}
	return negotiateRequest(conn)
}

func negotiateMethod(conn io.ReadWriter) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return sserrors.Trace(ErrSocksProtocol{Reason: "failed to read greeting", Cause: err})
	}
	if header[0] != socksVersion5 {
		return sserrors.Trace(ErrSocksProtocol{Reason: fmt.Sprintf("unsupported version 0x%02x", header[0])})
	}
	methods := make([]byte, header[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return sserrors.Trace(ErrSocksProtocol{Reason: "failed to read auth methods", Cause: err})
	}

	accepted := false
	for _, m := range methods {
		if m == socksMethodNoAuth {
			accepted = true
			break
		}
	}
	if !accepted {
		conn.Write([]byte{socksVersion5, socksMethodNoAcceptable})
		return sserrors.Trace(ErrSocksProtocol{Reason: "no acceptable auth method"})
	}
	if _, err := conn.Write([]byte{socksVersion5, socksMethodNoAuth}); err != nil {
		return sserrors.Trace(ErrSocksProtocol{Reason: "failed to write method reply", Cause: err})
	}
	return nil
}

func negotiateRequest(conn io.ReadWriter) (TargetAddress, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: "failed to read request header", Cause: err})
	}
	ver, cmd, rsv, atyp := header[0], header[1], header[2], header[3]
	if ver != socksVersion5 {
		return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: fmt.Sprintf("unsupported version 0x%02x", ver)})
	}
	if rsv != 0x00 {
		writeReply(conn, repGeneralFailure)
		return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: fmt.Sprintf("non-zero reserved byte 0x%02x", rsv)})
	}
	if cmd != socksCmdConnect {
		writeReply(conn, repCommandNotSupported)
		return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: fmt.Sprintf("unsupported command 0x%02x", cmd)})
	}

	var host string
	var addrBytes []byte
	switch atyp {
	case atypIPv4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: "failed to read IPv4 address", Cause: err})
		}
		host = net.IP(buf).String()
		addrBytes = buf
	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: "failed to read domain length", Cause: err})
		}
		if lenBuf[0] == 0 {
			writeReply(conn, repGeneralFailure)
			return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: "zero-length domain name"})
		}
		domain := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(conn, domain); err != nil {
			return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: "failed to read domain", Cause: err})
		}
		host = string(domain)
		addrBytes = append(lenBuf, domain...)
	case atypIPv6:
		buf := make([]byte, 16)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: "failed to read IPv6 address", Cause: err})
		}
		host = net.IP(buf).String()
		addrBytes = buf
	default:
		writeReply(conn, repAtypNotSupported)
		return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: fmt.Sprintf("unsupported ATYP 0x%02x", atyp)})
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return TargetAddress{}, sserrors.Trace(ErrSocksProtocol{Reason: "failed to read port", Cause: err})
	}
	port := binary.BigEndian.Uint16(portBuf)

	raw := make([]byte, 0, 1+len(addrBytes)+2)
	raw = append(raw, atyp)
	raw = append(raw, addrBytes...)
	raw = append(raw, portBuf...)

	return TargetAddress{Host: host, Port: port, Raw: raw}, nil
}

func writeReply(conn io.Writer, rep byte) {
	conn.Write([]byte{socksVersion5, rep, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0})
}

// WriteSuccess sends the fixed SOCKS5 success reply. The caller must
// call this only after the remote tunnel has actually been established.
func WriteSuccess(conn io.Writer) error {
	_, err := conn.Write(successReply)
	return err
}
