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
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

var testSuites = []string{"AES-128-GCM", "AES-256-GCM", "CHACHA20-IETF-POLY1305"}

// TestRoundTrip is scenario S2, generalized across every supported suite:
// Decrypt(Encrypt(P)) == P given the same password (invariant 1).
func TestRoundTrip(t *testing.T) {
	for _, suite := range testSuites {
		t.Run(suite, func(t *testing.T) {
			key, err := NewKey(suite, []byte("12345678"))
			require.NoError(t, err)

			plaintext := bytes.Repeat([]byte{0xAB}, 10000)

			var wire bytes.Buffer
			enc := NewEncryptor(&wire, key)
			_, err = enc.Write(plaintext)
			require.NoError(t, err)

			key2, err := NewKey(suite, []byte("12345678"))
			require.NoError(t, err)
			dec := NewDecryptor(&wire, key2)
			got, err := io.ReadAll(dec)
			require.NoError(t, err)
			require.Equal(t, plaintext, got)
		})
	}
}

// TestNonceSequence checks invariant 2: the encryptor's nonce sequence
// is exactly 0, 1, 2, ... To observe it, we decrypt each block manually
// with an independently constructed AEAD and an explicit nonce counter.
func TestNonceSequence(t *testing.T) {
	key, err := NewKey("CHACHA20-IETF-POLY1305", []byte("nonce-check"))
	require.NoError(t, err)

	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key)
	_, err = enc.Write([]byte("first"))
	require.NoError(t, err)
	_, err = enc.Write([]byte("second"))
	require.NoError(t, err)

	suite, err := SuiteByName("CHACHA20-IETF-POLY1305")
	require.NoError(t, err)

	data := wire.Bytes()
	salt := data[:suite.SaltSize]
	data = data[suite.SaltSize:]

	key3, err := NewKey("CHACHA20-IETF-POLY1305", []byte("nonce-check"))
	require.NoError(t, err)
	aead, err := key3.NewAEAD(salt)
	require.NoError(t, err)

	nonce := make([]byte, aead.NonceSize())
	readNext := func(size int) []byte {
		sealed := data[:size]
		data = data[size:]
		plain, err := aead.Open(nil, nonce, sealed, nil)
		require.NoError(t, err)
		incrementNonce(nonce)
		return plain
	}

	overhead := aead.Overhead()
	length1 := readNext(2 + overhead)
	require.Equal(t, uint16(5), binary.BigEndian.Uint16(length1))
	payload1 := readNext(5 + overhead)
	require.Equal(t, "first", string(payload1))

	length2 := readNext(2 + overhead)
	require.Equal(t, uint16(6), binary.BigEndian.Uint16(length2))
	payload2 := readNext(6 + overhead)
	require.Equal(t, "second", string(payload2))

	require.Empty(t, data)
}

// TestTamperDetection is scenario S4 / invariant 4: flipping a bit in
// the payload ciphertext of the 3rd chunk must fail exactly that chunk
// and emit no plaintext from it onward, while earlier chunks still read
// back correctly.
func TestTamperDetection(t *testing.T) {
	key, err := NewKey("CHACHA20-IETF-POLY1305", []byte("12345678"))
	require.NoError(t, err)

	// Three chunks of 1 byte each, each its own Write call so the chunk
	// boundaries are known exactly.
	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key)
	for _, b := range []byte{1, 2, 3} {
		_, err := enc.Write([]byte{b})
		require.NoError(t, err)
	}

	suite, err := SuiteByName("CHACHA20-IETF-POLY1305")
	require.NoError(t, err)
	overhead := 16
	chunkSize := (2 + overhead) + (1 + overhead)
	data := wire.Bytes()
	thirdChunkStart := suite.SaltSize + 2*chunkSize
	// Flip a bit inside the 3rd chunk's payload ciphertext (the byte
	// right after that chunk's length block).
	tamperIndex := thirdChunkStart + (2 + overhead)
	data[tamperIndex] ^= 0x01

	key2, err := NewKey("CHACHA20-IETF-POLY1305", []byte("12345678"))
	require.NoError(t, err)
	dec := NewDecryptor(bytes.NewReader(data), key2)

	buf := make([]byte, 1)
	n, err := dec.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, buf[:n])

	n, err = dec.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{2}, buf[:n])

	_, err = dec.Read(buf)
	require.ErrorIs(t, err, ErrAuthFailed)

	// The Decryptor is poisoned: further reads keep failing, never
	// emitting the tampered or subsequent plaintext.
	_, err = dec.Read(buf)
	require.ErrorIs(t, err, ErrAuthFailed)
}

// TestFragmentedInput is invariant 5: feeding the salt and one complete
// frame split across arbitrary buffer boundaries must produce the same
// output as feeding it unsplit.
func TestFragmentedInput(t *testing.T) {
	key, err := NewKey("AES-256-GCM", []byte("fragment-test"))
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte{0x42}, 5000)
	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key)
	_, err = enc.Write(plaintext)
	require.NoError(t, err)

	data := wire.Bytes()

	key2, err := NewKey("AES-256-GCM", []byte("fragment-test"))
	require.NoError(t, err)
	dec := NewDecryptor(&oneByteReader{data: data}, key2)
	got, err := io.ReadAll(dec)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

// oneByteReader returns at most one byte per Read call, the most
// adversarial fragmentation a stream transport can present.
type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(b []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	b[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

// TestWireSize is invariant 6: encrypting a single P of length L <=
// 0x3FFF produces wire size exactly saltSize + 2 + tagSize + L + tagSize.
func TestWireSize(t *testing.T) {
	key, err := NewKey("AES-128-GCM", []byte("size-test"))
	require.NoError(t, err)
	suite, err := SuiteByName("AES-128-GCM")
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte{0x01}, 4000)
	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key)
	_, err = enc.Write(plaintext)
	require.NoError(t, err)

	want := suite.SaltSize + 2 + suite.TagSize + len(plaintext) + suite.TagSize
	require.Equal(t, want, wire.Len())
}

// TestChunkSplitting is invariant 7: encrypting a single P with L >
// 0x3FFF splits into ceil(L/0x3FFF) sub-chunks, preserving order and
// content on decrypt.
func TestChunkSplitting(t *testing.T) {
	key, err := NewKey("AES-128-GCM", []byte("split-test"))
	require.NoError(t, err)
	suite, err := SuiteByName("AES-128-GCM")
	require.NoError(t, err)

	length := maxChunkPayload*2 + 10
	plaintext := make([]byte, length)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	var wire bytes.Buffer
	enc := NewEncryptor(&wire, key)
	_, err = enc.Write(plaintext)
	require.NoError(t, err)

	numChunks := 3 // ceil(2*maxChunkPayload+10 / maxChunkPayload)
	want := suite.SaltSize + numChunks*(2+suite.TagSize) + length + numChunks*suite.TagSize
	require.Equal(t, want, wire.Len())

	key2, err := NewKey("AES-128-GCM", []byte("split-test"))
	require.NoError(t, err)
	dec := NewDecryptor(&wire, key2)
	got, err := io.ReadAll(dec)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

// TestInvalidLengthRejected is invariant 3: a length field that decrypts
// to a value outside [1, 0x3FFF] must fail without emitting plaintext.
func TestInvalidLengthRejected(t *testing.T) {
	key, err := NewKey("AES-128-GCM", []byte("bounds-test"))
	require.NoError(t, err)
	suite, err := SuiteByName("AES-128-GCM")
	require.NoError(t, err)

	salt := make([]byte, suite.SaltSize)
	aead, err := key.NewAEAD(salt)
	require.NoError(t, err)

	nonce := make([]byte, aead.NonceSize())
	lengthBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lengthBuf, 0) // zero length is invalid
	sealedLength := aead.Seal(nil, nonce, lengthBuf, nil)

	var wire bytes.Buffer
	wire.Write(salt)
	wire.Write(sealedLength)

	dec := NewDecryptor(&wire, key)
	buf := make([]byte, 16)
	_, err = dec.Read(buf)
	require.ErrorIs(t, err, ErrInvalidChunkLength)
}
