// SPDX-License-Identifier: MIT

package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseError mirrors wgcfg.ParseError's why/offender pair.
type ParseError struct {
	why      string
	offender string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: '%s'", e.why, e.offender)
}

func splitList(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(part)
		if len(trimmed) == 0 {
			return nil, &ParseError{"empty entry in comma-separated list", s}
		}
		out = append(out, trimmed)
	}
	return out, nil
}

func parseBool(s string) (bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, &ParseError{"invalid boolean", s}
	}
	return b, nil
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ParseError{"invalid integer", s}
	}
	return n, nil
}

func parseUint64(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &ParseError{"invalid unsigned integer", s}
	}
	return n, nil
}

func parsePorts(s string) ([]uint16, error) {
	parts, err := splitList(s)
	if err != nil {
		return nil, err
	}
	ports := make([]uint16, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, &ParseError{"invalid port", p}
		}
		ports = append(ports, uint16(n))
	}
	return ports, nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ParseError{"invalid duration", s}
	}
	return d, nil
}

// Parse reads an INI-style document using dotted section names
// ("[security.message]", "[listeners.tcp]"), one section per leaf struct.
// Grounded on wgcfg/parser.go's
// FromWgQuick line scanner (strip comments, trim, section-header
// detection, key=value split), generalized from a flat [Interface]/[Peer]
// pair to an arbitrary dotted section tree.
func Parse(s string) (*Config, error) {
	cfg := Default()
	section := ""
	for _, rawLine := range strings.Split(s, "\n") {
		line := rawLine
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if line[0] == '[' && line[len(line)-1] == ']' {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, &ParseError{"line is missing an equals separator", line}
		}
		key := strings.ToLower(strings.TrimSpace(line[:eq]))
		val := strings.TrimSpace(line[eq+1:])
		if section == "" {
			return nil, &ParseError{"key outside of any section", line}
		}
		if err := cfg.assign(section, key, val); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func (c *Config) assign(section, key, val string) error {
	switch section {
	case "interface":
		return c.assignInterface(key, val)
	case "listeners.tcp":
		return assignListener(&c.Listeners.TCP, key, val)
	case "listeners.udp":
		return assignListener(&c.Listeners.UDP, key, val)
	case "listeners.bth":
		return assignListener(&c.Listeners.BTH, key, val)
	case "listeners":
		return c.assignListeners(key, val)
	case "relays":
		return c.assignRelays(key, val)
	case "security.message":
		return c.assignMessage(key, val)
	case "security.key_update":
		return c.assignKeyUpdate(key, val)
	case "security.noise":
		return c.assignNoise(key, val)
	case "security.general":
		return c.assignGeneral(key, val)
	case "security.relay":
		return c.assignRelaySecurity(key, val)
	case "security.udp":
		return c.assignUDPSecurity(key, val)
	default:
		return &ParseError{"unrecognized section", section}
	}
}

func (c *Config) assignInterface(key, val string) error {
	var err error
	switch key {
	case "name":
		c.Name = val
	case "require_authentication":
		c.RequireAuthentication, err = parseBool(val)
	case "global_shared_secret":
		c.GlobalSharedSecret, err = hex.DecodeString(val)
		if err != nil {
			return &ParseError{"invalid hex secret", val}
		}
	case "num_pregenerated_keys_per_algorithm":
		c.NumPregeneratedKeys, err = parseInt(val)
	case "supported_algorithms.hash":
		c.SupportedAlgorithms.Hash, err = splitList(val)
	case "supported_algorithms.primary_asym":
		c.SupportedAlgorithms.PrimaryAsym, err = splitList(val)
	case "supported_algorithms.secondary_asym":
		c.SupportedAlgorithms.SecondaryAsym, err = splitList(val)
	case "supported_algorithms.symmetric":
		c.SupportedAlgorithms.Symmetric, err = splitList(val)
	case "supported_algorithms.compression":
		c.SupportedAlgorithms.Compression, err = splitList(val)
	default:
		return &ParseError{"unrecognized [interface] key", key}
	}
	return err
}

func assignListener(l *ListenerConfig, key, val string) error {
	var err error
	switch key {
	case "enable":
		l.Enable, err = parseBool(val)
	case "ports":
		l.Ports, err = parsePorts(val)
	case "require_authentication":
		l.RequireAuthentication, err = parseBool(val)
	case "discoverable":
		l.Discoverable, err = parseBool(val)
	default:
		return &ParseError{"unrecognized listener key", key}
	}
	return err
}

func (c *Config) assignListeners(key, val string) error {
	var err error
	switch key {
	case "enable_nat_traversal":
		c.Listeners.EnableNATTraversal, err = parseBool(val)
	default:
		return &ParseError{"unrecognized [listeners] key", key}
	}
	return err
}

func (c *Config) assignRelays(key, val string) error {
	var err error
	switch key {
	case "enable":
		c.Relays.Enable, err = parseBool(val)
	case "ipv4_excluded_networks_cidr":
		c.Relays.IPv4ExcludedNetworksCIDR, err = splitList(val)
	case "ipv6_excluded_networks_cidr":
		c.Relays.IPv6ExcludedNetworksCIDR, err = splitList(val)
	default:
		return &ParseError{"unrecognized [relays] key", key}
	}
	return err
}

func (c *Config) assignMessage(key, val string) error {
	m := &c.Security.Message
	var err error
	switch key {
	case "age_tolerance":
		m.AgeTolerance, err = parseDuration(val)
	case "min_random_data_prefix_size":
		m.MinRandomDataPrefixSize, err = parseInt(val)
	case "max_random_data_prefix_size":
		m.MaxRandomDataPrefixSize, err = parseInt(val)
	case "min_internal_random_data_size":
		m.MinInternalRandomDataSize, err = parseInt(val)
	case "max_internal_random_data_size":
		m.MaxInternalRandomDataSize, err = parseInt(val)
	case "extender_grace_period":
		m.ExtenderGracePeriod, err = parseDuration(val)
	default:
		return &ParseError{"unrecognized [security.message] key", key}
	}
	return err
}

func (c *Config) assignKeyUpdate(key, val string) error {
	k := &c.Security.KeyUpdate
	var err error
	switch key {
	case "min_interval":
		k.MinInterval, err = parseDuration(val)
	case "max_interval":
		k.MaxInterval, err = parseDuration(val)
	case "max_duration":
		k.MaxDuration, err = parseDuration(val)
	case "require_after_num_processed_bytes":
		k.RequireAfterNumProcessedBytes, err = parseUint64(val)
	case "grace_duration":
		k.GraceDuration, err = parseDuration(val)
	default:
		return &ParseError{"unrecognized [security.key_update] key", key}
	}
	return err
}

func (c *Config) assignNoise(key, val string) error {
	n := &c.Security.Noise
	var err error
	switch key {
	case "enabled":
		n.Enabled, err = parseBool(val)
	case "time_interval":
		n.TimeInterval, err = parseDuration(val)
	case "min_messages_per_interval":
		n.MinMessagesPerInterval, err = parseInt(val)
	case "max_messages_per_interval":
		n.MaxMessagesPerInterval, err = parseInt(val)
	case "min_message_size":
		n.MinMessageSize, err = parseInt(val)
	case "max_message_size":
		n.MaxMessageSize, err = parseInt(val)
	default:
		return &ParseError{"unrecognized [security.noise] key", key}
	}
	return err
}

func (c *Config) assignGeneral(key, val string) error {
	g := &c.Security.General
	var err error
	switch key {
	case "connect_timeout":
		g.ConnectTimeout, err = parseDuration(val)
	case "max_handshake_delay":
		g.MaxHandshakeDelay, err = parseDuration(val)
	case "max_handshake_duration":
		g.MaxHandshakeDuration, err = parseDuration(val)
	case "suspend_timeout":
		g.SuspendTimeout, err = parseDuration(val)
	case "max_suspend_duration":
		g.MaxSuspendDuration, err = parseDuration(val)
	case "ip_connection_attempts.max_per_interval":
		g.IPConnectionAttempts.MaxPerInterval, err = parseInt(val)
	case "ip_connection_attempts.interval":
		g.IPConnectionAttempts.Interval, err = parseDuration(val)
	case "ip_reputation_improvement_interval":
		g.IPReputationImprovementInterval, err = parseDuration(val)
	default:
		return &ParseError{"unrecognized [security.general] key", key}
	}
	return err
}

func (c *Config) assignRelaySecurity(key, val string) error {
	r := &c.Security.Relay
	var err error
	switch key {
	case "connect_timeout":
		r.ConnectTimeout, err = parseDuration(val)
	case "grace_period":
		r.GracePeriod, err = parseDuration(val)
	case "max_suspend_duration":
		r.MaxSuspendDuration, err = parseDuration(val)
	case "connection_attempts.max_per_interval":
		r.ConnectionAttempts.MaxPerInterval, err = parseInt(val)
	case "connection_attempts.interval":
		r.ConnectionAttempts.Interval, err = parseDuration(val)
	default:
		return &ParseError{"unrecognized [security.relay] key", key}
	}
	return err
}

func (c *Config) assignUDPSecurity(key, val string) error {
	u := &c.Security.UDP
	var err error
	switch key {
	case "connect_cookie_requirement_threshold":
		u.ConnectCookieRequirementThreshold, err = parseInt(val)
	case "cookie_expiration_interval":
		u.CookieExpirationInterval, err = parseDuration(val)
	case "max_mtu_discovery_delay":
		u.MaxMTUDiscoveryDelay, err = parseDuration(val)
	case "max_num_decoy_messages":
		u.MaxNumDecoyMessages, err = parseInt(val)
	case "max_decoy_message_interval":
		u.MaxDecoyMessageInterval, err = parseDuration(val)
	default:
		return &ParseError{"unrecognized [security.udp] key", key}
	}
	return err
}
