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
	"net"
	"sync"

	sserrors "github.com/Psiphon-Labs/ss-local-core/common/errors"
	"github.com/Psiphon-Labs/ss-local-core/common/logging"
)

// Listener runs the loopback SOCKS5 accept loop: it binds Config.LocalAddr,
// and for every accepted connection spawns a goroutine that runs it
// through a TunnelSupervisor. Listener is the top-level object cmd/ss-local
// constructs; it builds a new one each time the configuration is reloaded.
type Listener struct {
	config     Config
	supervisor *TunnelSupervisor
	logger     logging.Logger

	net.Listener
	wg sync.WaitGroup
}

// NewListener validates config, derives the Shadowsocks key, binds the
// loopback SOCKS5 port, and returns a Listener that is not yet serving;
// call Serve to run the accept loop.
func NewListener(config Config, logger logging.Logger) (*Listener, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	supervisor, err := NewTunnelSupervisor(config, logger)
	if err != nil {
		return nil, sserrors.TraceMsg(err, "failed to build tunnel supervisor")
	}

	ln, err := net.Listen("tcp", config.LocalAddr())
	if err != nil {
		return nil, sserrors.TraceMsg(err, "failed to bind local socks listener")
	}

	return &Listener{
		config:     config,
		supervisor: supervisor,
		logger:     logger,
		Listener:   ln,
	}, nil
}

// Addr returns the bound loopback address. A zero Config.LocalPort is
// replaced by DefaultLocalPort before binding, so the OS never picks the
// port.
func (l *Listener) Addr() net.Addr {
	return l.Listener.Addr()
}

// Serve runs the accept loop until ctx is canceled or Stop is called.
// It blocks until every in-flight tunnel spawned from an accepted
// connection has returned.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.Listener.Close()
	}()

	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				l.logger.WithTraceFields(logging.Fields{"error": err.Error()}).Warning("temporary accept error")
				continue
			}
			l.wg.Wait()
			return sserrors.TraceMsg(err, "accept failed")
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.supervisor.Handle(ctx, conn)
		}()
	}
}

// Stop closes the listener, causing Serve's accept loop to unblock and
// return once every in-flight tunnel has finished.
func (l *Listener) Stop() error {
	return l.Listener.Close()
}
