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
	"crypto/rand"

	sserrors "github.com/Psiphon-Labs/ss-local-core/common/errors"
)

// SaltGenerator produces the per-direction salt an Encryptor emits as
// the first bytes on the wire. Encryptor.SetSaltGenerator substitutes
// another source; the default is RandomSaltGenerator.
type SaltGenerator interface {
	GetSalt(salt []byte) error
}

type randomSaltGenerator struct{}

func (randomSaltGenerator) GetSalt(salt []byte) error {
	_, err := rand.Read(salt)
	return sserrors.Trace(err)
}

// RandomSaltGenerator fills a salt with cryptographically random bytes.
var RandomSaltGenerator SaltGenerator = randomSaltGenerator{}
