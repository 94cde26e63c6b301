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
	"crypto/md5"
	"crypto/sha1"
	"io"

	"golang.org/x/crypto/hkdf"

	sserrors "github.com/Psiphon-Labs/ss-local-core/common/errors"
)

// subkeyInfo is the fixed HKDF info parameter mandated by the
// Shadowsocks AEAD spec.
var subkeyInfo = []byte("ss-subkey")

// Key holds a password's master key, stretched once at construction
// time, and the cipher suite it will be used with. A Key is immutable
// and is reused across every tunnel that shares a password; only the
// per-direction, per-tunnel salt varies.
type Key struct {
	suite  *Suite
	master []byte
}

// NewKey derives the master key for a (suite, password) pair. password
// is the raw, human-supplied secret; it is stretched with the legacy
// OpenSSL EVP_BytesToKey equivalent before use, matching the
// Shadowsocks reference implementation's key derivation
// (https://shadowsocks.org/doc/aead.html). This stretch is intentional
// interop with existing Shadowsocks servers, not a recommended KDF; do
// not reuse evpBytesToKey for anything else.
func NewKey(suiteName string, password []byte) (*Key, error) {
	suite, err := SuiteByName(suiteName)
	if err != nil {
		return nil, sserrors.Trace(err)
	}
	master, err := evpBytesToKey(password, suite.KeySize)
	if err != nil {
		return nil, sserrors.Trace(err)
	}
	return &Key{suite: suite, master: master}, nil
}

// Suite returns the cipher suite this key was created with.
func (k *Key) Suite() *Suite {
	return k.suite
}

// NewAEAD derives the per-session subkey from this key's master key and
// the given salt via HKDF-SHA1, and constructs the AEAD instance for it.
// salt must be exactly k.suite.SaltSize bytes.
func (k *Key) NewAEAD(salt []byte) (cipher.AEAD, error) {
	subkey := make([]byte, k.suite.KeySize)
	r := hkdf.New(sha1.New, k.master, salt, subkeyInfo)
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, sserrors.Trace(err)
	}
	aead, err := k.suite.newAEAD(subkey)
	if err != nil {
		return nil, sserrors.Trace(err)
	}
	return aead, nil
}

// evpBytesToKey implements the MD5-based key stretch described at
// https://www.openssl.org/docs/manmaster/man3/EVP_BytesToKey.html with
// an empty salt: d_0 = MD5(password), d_i = MD5(d_{i-1} || password),
// output is d_0 || d_1 || ... truncated to keyLen.
func evpBytesToKey(password []byte, keyLen int) ([]byte, error) {
	var derived, prev []byte
	h := md5.New()
	for len(derived) < keyLen {
		h.Reset()
		if _, err := h.Write(prev); err != nil {
			return nil, sserrors.Trace(err)
		}
		if _, err := h.Write(password); err != nil {
			return nil, sserrors.Trace(err)
		}
		derived = h.Sum(derived)
		prev = derived[len(derived)-h.Size():]
	}
	return derived[:keyLen], nil
}
