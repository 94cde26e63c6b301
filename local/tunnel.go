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
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	sserrors "github.com/Psiphon-Labs/ss-local-core/common/errors"
	"github.com/Psiphon-Labs/ss-local-core/common/logging"
	"github.com/Psiphon-Labs/ss-local-core/crypto/shadowsocks"

	"github.com/Jigsaw-Code/outline-sdk/transport"
)

// TunnelSupervisor drives one local SOCKS5 connection end to end: SOCKS5
// negotiation, dialing the remote relay, AEAD-wrapping that connection,
// and relaying bytes in both directions until either side closes or
// errors. One TunnelSupervisor is built per Listener and reused, by
// value semantics, across every accepted connection; it holds no
// per-tunnel mutable state.
type TunnelSupervisor struct {
	config Config
	key    *shadowsocks.Key
	logger logging.Logger
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewTunnelSupervisor derives the Shadowsocks master key once from
// config and returns a TunnelSupervisor ready to handle connections.
// config must already have passed Validate.
func NewTunnelSupervisor(config Config, logger logging.Logger) (*TunnelSupervisor, error) {
	key, err := shadowsocks.NewKey(config.Suite, config.Password)
	if err != nil {
		return nil, sserrors.TraceMsg(err, "failed to derive key")
	}
	return &TunnelSupervisor{
		config: config,
		key:    key,
		logger: logger,
		dial:   (&net.Dialer{}).DialContext,
	}, nil
}

// Handle runs one tunnel to completion on clientConn, which the caller
// has just accepted on the loopback SOCKS5 listener. Handle always
// closes clientConn before returning.
func (s *TunnelSupervisor) Handle(ctx context.Context, clientConn net.Conn) {
	defer clientConn.Close()

	// SocksProtocolError is a routine, client-caused condition, not a
	// relay fault: spec.md §7 classifies it as DEBUG.
	target, err := Negotiate(clientConn)
	if err != nil {
		s.logger.WithTraceFields(logging.Fields{"error": err.Error()}).Debug("socks negotiation failed")
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	remoteConn, err := s.dial(dialCtx, "tcp", s.config.RemoteAddr())
	cancel()
	if err != nil {
		writeReply(clientConn, repGeneralFailure)
		dialErr := ErrRemoteDial{Addr: s.config.RemoteAddr(), Cause: err}
		// RemoteDialError is one of spec.md §7's two ERROR-level kinds.
		s.logger.WithTraceFields(logging.Fields{"error": dialErr.Error()}).Error("remote dial failed")
		return
	}
	defer remoteConn.Close()

	streamConn, ok := remoteConn.(transport.StreamConn)
	if !ok {
		writeReply(clientConn, repGeneralFailure)
		s.logger.WithTrace().Debug("remote connection does not support half-close")
		return
	}

	encryptor := shadowsocks.NewEncryptor(streamConn, s.key)
	decryptor := shadowsocks.NewDecryptor(streamConn, s.key)
	remote := transport.WrapConn(streamConn, decryptor, encryptor)

	if _, err := remote.Write(target.Raw); err != nil {
		s.logger.WithTraceFields(logging.Fields{"error": err.Error()}).Debug("failed to write target address")
		return
	}

	if err := WriteSuccess(clientConn); err != nil {
		s.logger.WithTraceFields(logging.Fields{"error": err.Error()}).Debug("failed to write socks success reply")
		return
	}

	s.relay(ctx, clientConn, remote, target, encryptor, decryptor)
}

// relay glues the client's loopback connection and the encrypted remote
// connection together: client_in -> Encryptor -> remote_out on one
// goroutine, remote_in -> Decryptor -> client_out on the other. A clean
// EOF in one direction shuts down the write side of that direction's
// destination and leaves the other direction running; an error in
// either direction tears down both.
func (s *TunnelSupervisor) relay(ctx context.Context, clientConn net.Conn, remote transport.StreamConn, target TargetAddress, encryptor *shadowsocks.Encryptor, decryptor *shadowsocks.Decryptor) {
	clientConn = newIdleTimeoutConn(clientConn, s.config.Timeout)
	remoteConn := newIdleTimeoutConn(remote, s.config.Timeout)

	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			clientConn.Close()
			remoteConn.Close()
		})
	}
	go func() {
		<-gctx.Done()
		closeBoth()
	}()
	defer closeBoth()

	g.Go(func() error {
		_, err := io.Copy(remoteConn, clientConn)
		remote.CloseWrite()
		return classifyRelayError(err)
	})
	g.Go(func() error {
		_, err := io.Copy(clientConn, remoteConn)
		if tc, ok := unwrapTCPConn(clientConn); ok {
			tc.CloseWrite()
		}
		return classifyRelayError(err)
	})

	err := g.Wait()
	fields := logging.Fields{"target": target.String()}
	if err != nil {
		fields.Add(logging.Fields{"error": err.Error()})
		trace := s.logger.WithTraceFields(fields)
		// AEADFailure is spec.md §7's other ERROR-level kind;
		// TransportError and IdleTimeout are routine and log at DEBUG.
		var aeadErr ErrAEAD
		if errors.As(err, &aeadErr) {
			trace.Error("tunnel closed with error")
		} else {
			trace.Debug("tunnel closed with error")
		}
	} else {
		s.logger.WithTraceFields(fields).Debug("tunnel closed")
	}

	s.logger.LogMetric("tunnel", logging.Fields{
		"target":    target.String(),
		"bytesOut":  encryptor.Bytes(),
		"chunksOut": encryptor.Chunks(),
		"bytesIn":   decryptor.Bytes(),
		"chunksIn":  decryptor.Chunks(),
	})
}

// classifyRelayError maps the errors io.Copy can surface during a relay
// into the taxonomy from spec.md §7. A clean EOF is not an error.
func classifyRelayError(err error) error {
	if err == nil || err == io.EOF {
		return nil
	}
	var idleErr ErrIdleTimeout
	if errors.As(err, &idleErr) {
		return idleErr
	}
	switch {
	case errors.Is(err, shadowsocks.ErrAuthFailed), errors.Is(err, shadowsocks.ErrInvalidChunkLength):
		return ErrAEAD{Cause: err}
	default:
		return ErrTransport{Cause: err}
	}
}

func unwrapTCPConn(c net.Conn) (*net.TCPConn, bool) {
	for {
		switch v := c.(type) {
		case *net.TCPConn:
			return v, true
		case *idleTimeoutConn:
			c = v.Conn
		default:
			return nil, false
		}
	}
}

// idleTimeoutConn refreshes a read and write deadline on every
// successful operation so that a tunnel with no traffic in either
// direction for longer than timeout unblocks its own io.Copy with a
// timeout error, satisfying spec.md's idle-timeout requirement without
// a separate timer goroutine per tunnel.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func newIdleTimeoutConn(c net.Conn, timeout time.Duration) *idleTimeoutConn {
	return &idleTimeoutConn{Conn: c, timeout: timeout}
}

func (c *idleTimeoutConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	n, err := c.Conn.Read(b)
	if isTimeout(err) {
		err = ErrIdleTimeout{}
	}
	return n, err
}

func (c *idleTimeoutConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	n, err := c.Conn.Write(b)
	if isTimeout(err) {
		err = ErrIdleTimeout{}
	}
	return n, err
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
