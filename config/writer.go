// SPDX-License-Identifier: MIT

package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Write serializes a Config back to the dotted-section INI format Parse
// reads, mirroring wgcfg/writer.go's ToUAPI string-builder approach.
func (c Config) Write() string {
	out := new(strings.Builder)

	fmt.Fprintf(out, "[interface]\n")
	if c.Name != "" {
		fmt.Fprintf(out, "name=%s\n", c.Name)
	}
	fmt.Fprintf(out, "require_authentication=%t\n", c.RequireAuthentication)
	if len(c.GlobalSharedSecret) > 0 {
		fmt.Fprintf(out, "global_shared_secret=%s\n", hex.EncodeToString(c.GlobalSharedSecret))
	}
	fmt.Fprintf(out, "num_pregenerated_keys_per_algorithm=%d\n", c.NumPregeneratedKeys)
	writeListIfSet(out, "supported_algorithms.hash", c.SupportedAlgorithms.Hash)
	writeListIfSet(out, "supported_algorithms.primary_asym", c.SupportedAlgorithms.PrimaryAsym)
	writeListIfSet(out, "supported_algorithms.secondary_asym", c.SupportedAlgorithms.SecondaryAsym)
	writeListIfSet(out, "supported_algorithms.symmetric", c.SupportedAlgorithms.Symmetric)
	writeListIfSet(out, "supported_algorithms.compression", c.SupportedAlgorithms.Compression)

	writeListener(out, "listeners.tcp", c.Listeners.TCP)
	writeListener(out, "listeners.udp", c.Listeners.UDP)
	writeListener(out, "listeners.bth", c.Listeners.BTH)

	fmt.Fprintf(out, "\n[listeners]\n")
	fmt.Fprintf(out, "enable_nat_traversal=%t\n", c.Listeners.EnableNATTraversal)

	fmt.Fprintf(out, "\n[relays]\n")
	fmt.Fprintf(out, "enable=%t\n", c.Relays.Enable)
	writeListIfSet(out, "ipv4_excluded_networks_cidr", c.Relays.IPv4ExcludedNetworksCIDR)
	writeListIfSet(out, "ipv6_excluded_networks_cidr", c.Relays.IPv6ExcludedNetworksCIDR)

	m := c.Security.Message
	fmt.Fprintf(out, "\n[security.message]\n")
	fmt.Fprintf(out, "age_tolerance=%s\n", m.AgeTolerance)
	fmt.Fprintf(out, "min_random_data_prefix_size=%d\n", m.MinRandomDataPrefixSize)
	fmt.Fprintf(out, "max_random_data_prefix_size=%d\n", m.MaxRandomDataPrefixSize)
	fmt.Fprintf(out, "min_internal_random_data_size=%d\n", m.MinInternalRandomDataSize)
	fmt.Fprintf(out, "max_internal_random_data_size=%d\n", m.MaxInternalRandomDataSize)
	fmt.Fprintf(out, "extender_grace_period=%s\n", m.ExtenderGracePeriod)

	k := c.Security.KeyUpdate
	fmt.Fprintf(out, "\n[security.key_update]\n")
	fmt.Fprintf(out, "min_interval=%s\n", k.MinInterval)
	fmt.Fprintf(out, "max_interval=%s\n", k.MaxInterval)
	fmt.Fprintf(out, "max_duration=%s\n", k.MaxDuration)
	fmt.Fprintf(out, "require_after_num_processed_bytes=%s\n", strconv.FormatUint(k.RequireAfterNumProcessedBytes, 10))
	fmt.Fprintf(out, "grace_duration=%s\n", k.GraceDuration)

	n := c.Security.Noise
	fmt.Fprintf(out, "\n[security.noise]\n")
	fmt.Fprintf(out, "enabled=%t\n", n.Enabled)
	fmt.Fprintf(out, "time_interval=%s\n", n.TimeInterval)
	fmt.Fprintf(out, "min_messages_per_interval=%d\n", n.MinMessagesPerInterval)
	fmt.Fprintf(out, "max_messages_per_interval=%d\n", n.MaxMessagesPerInterval)
	fmt.Fprintf(out, "min_message_size=%d\n", n.MinMessageSize)
	fmt.Fprintf(out, "max_message_size=%d\n", n.MaxMessageSize)

	g := c.Security.General
	fmt.Fprintf(out, "\n[security.general]\n")
	fmt.Fprintf(out, "connect_timeout=%s\n", g.ConnectTimeout)
	fmt.Fprintf(out, "max_handshake_delay=%s\n", g.MaxHandshakeDelay)
	fmt.Fprintf(out, "max_handshake_duration=%s\n", g.MaxHandshakeDuration)
	fmt.Fprintf(out, "suspend_timeout=%s\n", g.SuspendTimeout)
	fmt.Fprintf(out, "max_suspend_duration=%s\n", g.MaxSuspendDuration)
	fmt.Fprintf(out, "ip_connection_attempts.max_per_interval=%d\n", g.IPConnectionAttempts.MaxPerInterval)
	fmt.Fprintf(out, "ip_connection_attempts.interval=%s\n", g.IPConnectionAttempts.Interval)
	fmt.Fprintf(out, "ip_reputation_improvement_interval=%s\n", g.IPReputationImprovementInterval)

	r := c.Security.Relay
	fmt.Fprintf(out, "\n[security.relay]\n")
	fmt.Fprintf(out, "connect_timeout=%s\n", r.ConnectTimeout)
	fmt.Fprintf(out, "grace_period=%s\n", r.GracePeriod)
	fmt.Fprintf(out, "max_suspend_duration=%s\n", r.MaxSuspendDuration)
	fmt.Fprintf(out, "connection_attempts.max_per_interval=%d\n", r.ConnectionAttempts.MaxPerInterval)
	fmt.Fprintf(out, "connection_attempts.interval=%s\n", r.ConnectionAttempts.Interval)

	u := c.Security.UDP
	fmt.Fprintf(out, "\n[security.udp]\n")
	fmt.Fprintf(out, "connect_cookie_requirement_threshold=%d\n", u.ConnectCookieRequirementThreshold)
	fmt.Fprintf(out, "cookie_expiration_interval=%s\n", u.CookieExpirationInterval)
	fmt.Fprintf(out, "max_mtu_discovery_delay=%s\n", u.MaxMTUDiscoveryDelay)
	fmt.Fprintf(out, "max_num_decoy_messages=%d\n", u.MaxNumDecoyMessages)
	fmt.Fprintf(out, "max_decoy_message_interval=%s\n", u.MaxDecoyMessageInterval)

	return out.String()
}

func writeListIfSet(out *strings.Builder, key string, vals []string) {
	if len(vals) == 0 {
		return
	}
	fmt.Fprintf(out, "%s=%s\n", key, strings.Join(vals, ","))
}

func writeListener(out *strings.Builder, section string, l ListenerConfig) {
	fmt.Fprintf(out, "\n[%s]\n", section)
	fmt.Fprintf(out, "enable=%t\n", l.Enable)
	if len(l.Ports) > 0 {
		ports := make([]string, len(l.Ports))
		for i, p := range l.Ports {
			ports[i] = strconv.Itoa(int(p))
		}
		fmt.Fprintf(out, "ports=%s\n", strings.Join(ports, ","))
	}
	fmt.Fprintf(out, "require_authentication=%t\n", l.RequireAuthentication)
	fmt.Fprintf(out, "discoverable=%t\n", l.Discoverable)
}
