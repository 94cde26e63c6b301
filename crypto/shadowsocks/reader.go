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

package shadowsocks

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"

	sserrors "github.com/Psiphon-Labs/ss-local-core/common/errors"
)

// ErrAuthFailed indicates an AEAD-open failure: a tampered chunk or a
// wrong key. A truncated stream is reported by its read error instead
// (io.EOF at a chunk boundary, io.ErrUnexpectedEOF mid-chunk). It is
// fatal for the tunnel; no partial plaintext from the affected chunk is
// ever produced.
var ErrAuthFailed = fmt.Errorf("shadowsocks: AEAD authentication failed")

// ErrInvalidChunkLength indicates a chunk's decrypted length field was
// zero or exceeded maxChunkPayload. Fatal for the tunnel.
var ErrInvalidChunkLength = fmt.Errorf("shadowsocks: chunk length out of range")

// decryptorState names the states from spec.md §4.2's decryptor state
// machine. It exists purely for readability/tests; readMessage's use of
// io.ReadFull already tolerates arbitrary input fragmentation.
type decryptorState int

const (
	stateNeedsSalt decryptorState = iota
	stateNeedsLength
	stateNeedsPayload
)

// Decryptor turns a Shadowsocks AEAD wire stream back into plaintext.
// It reads the salt on the first Read, then alternates between reading
// an encrypted length block and an encrypted payload block, verifying
// each independently. Any authentication failure or out-of-range length
// is fatal and permanently poisons the Decryptor: no further reads
// succeed and no partial plaintext from the failing chunk is returned.
type Decryptor struct {
	key *Key
	in  io.Reader

	state decryptorState
	aead  cipher.AEAD
	nonce []byte

	lengthBuf []byte
	payload   []byte // backing buffer for one decrypted chunk payload
	pending   []byte // unread tail of the current decrypted payload
	poisoned  error

	chunks int64
	bytes  int64
}

// Chunks returns the number of chunks read so far.
func (d *Decryptor) Chunks() int64 { return d.chunks }

// Bytes returns the number of plaintext payload bytes read so far.
func (d *Decryptor) Bytes() int64 { return d.bytes }

// NewDecryptor creates a Decryptor that reads the Shadowsocks AEAD
// framing from r and yields plaintext, using key.
func NewDecryptor(r io.Reader, key *Key) *Decryptor {
	return &Decryptor{
		key: key,
		in:  r,
	}
}

func (d *Decryptor) init() error {
	if d.state != stateNeedsSalt {
		return nil
	}
	salt := make([]byte, d.key.suite.SaltSize)
	if _, err := io.ReadFull(d.in, salt); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return err
	}
	aead, err := d.key.NewAEAD(salt)
	if err != nil {
		return sserrors.TraceMsg(err, "failed to create AEAD")
	}
	d.aead = aead
	d.nonce = make([]byte, aead.NonceSize())
	d.lengthBuf = make([]byte, 2+aead.Overhead())
	d.payload = make([]byte, maxChunkPayload+aead.Overhead())
	d.state = stateNeedsLength
	return nil
}

// Read implements io.Reader. Not safe for concurrent use.
func (d *Decryptor) Read(b []byte) (int, error) {
	if d.poisoned != nil {
		return 0, d.poisoned
	}
	if len(d.pending) == 0 {
		if err := d.readChunk(); err != nil {
			return 0, err
		}
	}
	n := copy(b, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// readChunk reads and authenticates the next full chunk (length block
// then payload block) and stores its plaintext in d.pending.
func (d *Decryptor) readChunk() error {
	if err := d.init(); err != nil {
		return d.poison(err)
	}

	if err := d.readMessage(d.lengthBuf); err != nil {
		// EOF here is a clean end of stream: no bytes of a new chunk
		// have arrived yet.
		if err == io.EOF {
			return d.poison(io.EOF)
		}
		return d.poison(sserrors.TraceMsg(err, "failed to read chunk length"))
	}
	size := int(binary.BigEndian.Uint16(d.lengthBuf))
	if size == 0 || size > maxChunkPayload {
		return d.poison(sserrors.Trace(ErrInvalidChunkLength))
	}
	d.state = stateNeedsPayload

	payloadWithTag := d.payload[:size+d.aead.Overhead()]
	if err := d.readMessage(payloadWithTag); err != nil {
		// EOF mid-chunk is a protocol violation, not a clean close.
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return d.poison(sserrors.TraceMsg(err, "failed to read chunk payload"))
	}
	d.pending = payloadWithTag[:size]
	d.state = stateNeedsLength
	d.chunks++
	d.bytes += int64(size)
	return nil
}

// readMessage reads exactly len(buf) ciphertext-plus-tag bytes,
// tolerating arbitrary fragmentation of the underlying stream, then
// opens it in place under the current nonce.
func (d *Decryptor) readMessage(buf []byte) error {
	if _, err := io.ReadFull(d.in, buf); err != nil {
		return err
	}
	_, err := d.aead.Open(buf[:0], d.nonce, buf, nil)
	incrementNonce(d.nonce)
	if err != nil {
		return ErrAuthFailed
	}
	return nil
}

// poison records a fatal error so that every subsequent Read returns it,
// discarding whatever ciphertext or partial state was buffered.
func (d *Decryptor) poison(err error) error {
	if err != io.EOF {
		d.poisoned = err
	} else {
		d.poisoned = io.EOF
	}
	d.pending = nil
	return err
}
