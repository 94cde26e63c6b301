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

/*

Package local implements the core of a Shadowsocks client: a loopback
SOCKS5 front-end (SocksNegotiator), the per-connection relay state
machine (TunnelSupervisor), and the accept loop that ties them together
(Listener). See crypto/shadowsocks for the AEAD wire protocol these
tunnels speak to the remote relay.

*/
package local

import (
	"net"
	"strconv"
	"time"

	sserrors "github.com/Psiphon-Labs/ss-local-core/common/errors"
	"github.com/Psiphon-Labs/ss-local-core/crypto/shadowsocks"
)

// DefaultLocalPort is the loopback SOCKS5 port used when Config.LocalPort
// is zero.
const DefaultLocalPort = 1080

// DefaultTimeout governs both the remote connect deadline and the
// per-tunnel idle deadline when Config.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Config is the immutable configuration record described in spec.md §6.
// A Config is safe to share, read-only, across every tunnel; nothing in
// this package mutates a Config after Validate succeeds.
type Config struct {
	RemoteHost string
	RemotePort uint16
	Password   []byte
	Suite      string
	LocalPort  uint16
	Timeout    time.Duration
}

// WithDefaults returns a copy of c with LocalPort and Timeout filled in
// from their documented defaults when unset.
func (c Config) WithDefaults() Config {
	if c.LocalPort == 0 {
		c.LocalPort = DefaultLocalPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Validate rejects a Config that is missing required fields or names an
// unsupported cipher suite. This is the ConfigError case from spec.md §7,
// fatal at startup, not per-tunnel.
func (c Config) Validate() error {
	if c.RemoteHost == "" {
		return sserrors.Trace(ErrConfig{Reason: "remote host is required"})
	}
	if c.RemotePort == 0 {
		return sserrors.Trace(ErrConfig{Reason: "remote port is required"})
	}
	if len(c.Password) == 0 {
		return sserrors.Trace(ErrConfig{Reason: "password is required"})
	}
	if _, err := shadowsocks.SuiteByName(c.Suite); err != nil {
		return sserrors.Trace(ErrConfig{Reason: err.Error()})
	}
	return nil
}

// RemoteAddr formats the configured remote host/port as a dial address.
func (c Config) RemoteAddr() string {
	return net.JoinHostPort(c.RemoteHost, strconv.Itoa(int(c.RemotePort)))
}

// LocalAddr formats the loopback listen address for the SOCKS5 front-end.
func (c Config) LocalAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(int(c.LocalPort)))
}
