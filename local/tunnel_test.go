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
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Psiphon-Labs/ss-local-core/common/logging"
	"github.com/Psiphon-Labs/ss-local-core/crypto/shadowsocks"
)

// fakeRelay is a minimal Shadowsocks-speaking TCP server: it accepts one
// connection, decrypts the target address record, then echoes back
// everything else it decrypts, AEAD-framed with the same key. It stands in for a real remote relay in tunnel tests.
type fakeRelay struct {
	ln  net.Listener
	key *shadowsocks.Key
}

func newFakeRelay(t *testing.T, suite string, password []byte) *fakeRelay {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	key, err := shadowsocks.NewKey(suite, password)
	require.NoError(t, err)
	return &fakeRelay{ln: ln, key: key}
}

func (r *fakeRelay) addr() string { return r.ln.Addr().String() }

func (r *fakeRelay) serveOnce(t *testing.T) {
	conn, err := r.ln.Accept()
	if err != nil {
		return
	}
	go func() {
		defer conn.Close()
		dec := shadowsocks.NewDecryptor(conn, r.key)
		enc := shadowsocks.NewEncryptor(conn, r.key)

		// Target address record: ATYP(1) then addr then port(2).
		atyp := make([]byte, 1)
		if _, err := io.ReadFull(dec, atyp); err != nil {
			return
		}
		var addrLen int
		switch atyp[0] {
		case atypIPv4:
			addrLen = 4
		case atypIPv6:
			addrLen = 16
		case atypDomain:
			lenBuf := make([]byte, 1)
			if _, err := io.ReadFull(dec, lenBuf); err != nil {
				return
			}
			addrLen = int(lenBuf[0])
		default:
			return
		}
		addr := make([]byte, addrLen)
		if _, err := io.ReadFull(dec, addr); err != nil {
			return
		}
		port := make([]byte, 2)
		if _, err := io.ReadFull(dec, port); err != nil {
			return
		}

		// Echo everything else it receives.
		io.Copy(enc, dec)
	}()
}

// TestTunnelSupervisorEndToEnd exercises the whole path: a real SOCKS5
// client speaks to a TunnelSupervisor behind a plain loopback listener,
// which relays through a fake AEAD relay
// that echoes payload back, and the client must see its own bytes
// return.
func TestTunnelSupervisorEndToEnd(t *testing.T) {
	relay := newFakeRelay(t, "AES-128-GCM", []byte("integration-test-password"))
	go relay.serveOnce(t)

	host, portStr, err := net.SplitHostPort(relay.addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := Config{
		RemoteHost: host,
		RemotePort: uint16(port),
		Password:   []byte("integration-test-password"),
		Suite:      "AES-128-GCM",
		Timeout:    5 * time.Second,
	}.WithDefaults()

	logger := logging.NewLogger("error")
	supervisor, err := NewTunnelSupervisor(cfg, logger)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		supervisor.Handle(context.Background(), conn)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	client.Write([]byte{0x05, 0x01, 0x00})
	methodReply := make([]byte, 2)
	_, err = io.ReadFull(client, methodReply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x00}, methodReply)

	req := []byte{0x05, socksCmdConnect, 0x00, atypIPv4, 127, 0, 0, 1}
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, 9)
	req = append(req, portBuf...)
	client.Write(req)

	cmdReply := make([]byte, 10)
	_, err = io.ReadFull(client, cmdReply)
	require.NoError(t, err)
	require.Equal(t, byte(repSucceeded), cmdReply[1])

	client.Write([]byte("ping"))
	echo := make([]byte, 4)
	_, err = io.ReadFull(client, echo)
	require.NoError(t, err)
	require.Equal(t, "ping", string(echo))
}
