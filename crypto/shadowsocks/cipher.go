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

Package shadowsocks implements the Shadowsocks AEAD wire protocol's
key schedule and stream framing: the encrypted, length-prefixed chunk
format described at https://shadowsocks.org/doc/aead.html.

This package intentionally does not support the legacy Shadowsocks
stream ciphers. Only the three AEAD suites below are recognized.

*/
package shadowsocks

import (
	"crypto/aes"
	"crypto/cipher"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	sserrors "github.com/Psiphon-Labs/ss-local-core/common/errors"
)

// maxChunkPayload is the largest payload, in bytes, a single chunk may
// carry. Larger plaintext buffers are split across multiple chunks.
const maxChunkPayload = 0x3FFF

// Suite identifies one of the closed set of AEAD ciphers this package
// supports, with the parameters the wire protocol needs.
type Suite struct {
	Name      string
	KeySize   int
	SaltSize  int
	TagSize   int
	newAEAD   func(key []byte) (cipher.AEAD, error)
}

var (
	suiteAES128GCM = &Suite{
		Name:     "AES-128-GCM",
		KeySize:  16,
		SaltSize: 16,
		TagSize:  16,
		newAEAD:  newAESGCM,
	}
	suiteAES256GCM = &Suite{
		Name:     "AES-256-GCM",
		KeySize:  32,
		SaltSize: 32,
		TagSize:  16,
		newAEAD:  newAESGCM,
	}
	suiteChacha20IETFPoly1305 = &Suite{
		Name:     "CHACHA20-IETF-POLY1305",
		KeySize:  chacha20poly1305.KeySize,
		SaltSize: 32,
		TagSize:  16,
		newAEAD:  func(key []byte) (cipher.AEAD, error) { return chacha20poly1305.New(key) },
	}
)

// ErrUnsupportedSuite is returned by SuiteByName for any name outside
// the closed set of supported AEAD ciphers.
type ErrUnsupportedSuite struct {
	Name string
}

func (e ErrUnsupportedSuite) Error() string {
	return "unsupported cipher suite: " + e.Name
}

// SuiteByName resolves a cipher suite name to its Suite. Matching is
// case-insensitive and accepts both the Shadowsocks alias ("aes-256-gcm")
// and the IANA AEAD name ("AEAD_AES_256_GCM").
func SuiteByName(name string) (*Suite, error) {
	switch strings.ToUpper(name) {
	case "AES-128-GCM", "AEAD_AES_128_GCM":
		return suiteAES128GCM, nil
	case "AES-256-GCM", "AEAD_AES_256_GCM":
		return suiteAES256GCM, nil
	case "CHACHA20-IETF-POLY1305", "AEAD_CHACHA20_POLY1305":
		return suiteChacha20IETFPoly1305, nil
	default:
		return nil, sserrors.Trace(ErrUnsupportedSuite{Name: name})
	}
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, sserrors.Trace(err)
	}
	return cipher.NewGCM(block)
}

// incrementNonce treats b as a little-endian unsigned integer and adds
// one, wrapping on overflow. Only the AEAD's NonceSize() leading bytes
// of the 12-byte counter are ever touched by callers.
func incrementNonce(b []byte) {
	for i := range b {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}
