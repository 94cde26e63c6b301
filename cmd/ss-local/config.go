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

package main

import (
	"encoding/json"
	"os"
	"time"

	sserrors "github.com/Psiphon-Labs/ss-local-core/common/errors"
	"github.com/Psiphon-Labs/ss-local-core/local"
)

// fileConfig is the on-disk JSON shape accepted by -config. Field names
// follow the common ss-local convention (server/server_port/password/
// method/local_port/timeout) rather than Config's Go field names, so
// that configuration files written for other Shadowsocks clients need
// only minor edits.
type fileConfig struct {
	Server     string `json:"server"`
	ServerPort uint16 `json:"server_port"`
	Password   string `json:"password"`
	Method     string `json:"method"`
	LocalPort  uint16 `json:"local_port"`
	Timeout    int    `json:"timeout"`
}

func loadFileConfig(path string) (local.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return local.Config{}, sserrors.TraceMsg(err, "failed to read config file")
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return local.Config{}, sserrors.TraceMsg(err, "failed to parse config file")
	}
	cfg := local.Config{
		RemoteHost: fc.Server,
		RemotePort: fc.ServerPort,
		Password:   []byte(fc.Password),
		Suite:      fc.Method,
		LocalPort:  fc.LocalPort,
	}
	if fc.Timeout > 0 {
		cfg.Timeout = time.Duration(fc.Timeout) * time.Second
	}
	return cfg, nil
}
