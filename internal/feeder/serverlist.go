// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package feeder

import (
	"fmt"
	"regexp"
	"strconv"
)

// serverEntryRegex matches one configured server line:
// owner:ip:port/password with owner and /password optional, ip an IPv4
// dotted quad.
var serverEntryRegex = regexp.MustCompile(`^(?:([^:]*):)?((?:[0-9]{1,3}\.){3}[0-9]{1,3}):([0-9]+)(?:/(.*))?$`)

// ServerEntry is one parsed server-list line.
type ServerEntry struct {
	Owner    string
	IP       string
	Port     int
	Password string
}

// Addr returns the entry's subscription address ip:port.
func (e ServerEntry) Addr() string {
	return e.IP + ":" + strconv.Itoa(e.Port)
}

// ParseServerEntry parses one server-list line.
func ParseServerEntry(line string) (ServerEntry, error) {
	match := serverEntryRegex.FindStringSubmatch(line)
	if match == nil {
		return ServerEntry{}, fmt.Errorf("%q: not owner:ip:port[/password]", line)
	}
	port, err := strconv.Atoi(match[3])
	if err != nil || port < 1 || port > 65535 {
		return ServerEntry{}, fmt.Errorf("%q: invalid port", line)
	}
	return ServerEntry{
		Owner:    match[1],
		IP:       match[2],
		Port:     port,
		Password: match[4],
	}, nil
}
