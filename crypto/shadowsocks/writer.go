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
	"io"

	sserrors "github.com/Psiphon-Labs/ss-local-core/common/errors"
)

// Encryptor turns a plaintext byte stream into the Shadowsocks AEAD
// wire format: a random salt followed by a sequence of chunks, each
// chunk being an encrypted 2-byte length and an encrypted payload of at
// most maxChunkPayload bytes, sealed under consecutive nonces.
//
// An Encryptor starts in state NeedsSalt and moves to Streaming on the
// first non-empty Write, and stays there for its lifetime; it is not
// reusable across tunnels.
type Encryptor struct {
	key           *Key
	saltGenerator SaltGenerator
	out           io.Writer

	streaming bool
	aead      cipher.AEAD
	nonce     []byte

	// scratch buffer reused across Write calls to avoid per-chunk
	// allocation; sized for the largest possible chunk.
	scratch []byte

	chunks int64
	bytes  int64
}

// NewEncryptor creates an Encryptor that writes the Shadowsocks AEAD
// framing of everything written to it out to w, using key.
func NewEncryptor(w io.Writer, key *Key) *Encryptor {
	return &Encryptor{
		out:           w,
		key:           key,
		saltGenerator: RandomSaltGenerator,
	}
}

// SetSaltGenerator overrides the salt source. Must be called before the
// first Write.
func (e *Encryptor) SetSaltGenerator(g SaltGenerator) {
	e.saltGenerator = g
}

func (e *Encryptor) init() error {
	if e.streaming {
		return nil
	}
	salt := make([]byte, e.key.suite.SaltSize)
	if err := e.saltGenerator.GetSalt(salt); err != nil {
		return sserrors.TraceMsg(err, "failed to generate salt")
	}
	aead, err := e.key.NewAEAD(salt)
	if err != nil {
		return sserrors.TraceMsg(err, "failed to create AEAD")
	}
	if _, err := e.out.Write(salt); err != nil {
		return sserrors.TraceMsg(err, "failed to write salt")
	}
	e.aead = aead
	e.nonce = make([]byte, aead.NonceSize())
	e.scratch = make([]byte, maxChunkPayload+aead.Overhead())
	e.streaming = true
	return nil
}

// Write implements io.Writer. It is not safe for concurrent use, matching
// the single-writer-per-tunnel-direction model in spec.md §5.
func (e *Encryptor) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := e.init(); err != nil {
		return 0, err
	}
	written := 0
	for len(p) > 0 {
		n := len(p)
		if n > maxChunkPayload {
			n = maxChunkPayload
		}
		if err := e.writeChunk(p[:n]); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

// writeChunk seals one length block and one payload block, each under
// its own nonce, and writes both to the underlying writer.
func (e *Encryptor) writeChunk(payload []byte) error {
	lengthBuf := e.scratch[:2]
	binary.BigEndian.PutUint16(lengthBuf, uint16(len(payload)))
	sealedLength := e.aead.Seal(lengthBuf[:0], e.nonce, lengthBuf, nil)
	incrementNonce(e.nonce)
	if _, err := e.out.Write(sealedLength); err != nil {
		return sserrors.TraceMsg(err, "failed to write chunk length")
	}

	payloadBuf := e.scratch[:len(payload)]
	copy(payloadBuf, payload)
	sealedPayload := e.aead.Seal(payloadBuf[:0], e.nonce, payloadBuf, nil)
	incrementNonce(e.nonce)
	if _, err := e.out.Write(sealedPayload); err != nil {
		return sserrors.TraceMsg(err, "failed to write chunk payload")
	}

	e.chunks++
	e.bytes += int64(len(payload))
	return nil
}

// Chunks returns the number of chunks written so far.
func (e *Encryptor) Chunks() int64 { return e.chunks }

// Bytes returns the number of plaintext payload bytes written so far.
func (e *Encryptor) Bytes() int64 { return e.bytes }
