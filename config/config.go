// SPDX-License-Identifier: MIT

// Package config has types and an INI-style parser/writer for representing
// QuantumGate configuration ('s recognized-options table). Grounded
// on wgcfg/config.go's Config/Peer/Copy shape, generalized from a single
// WireGuard interface+peers list to the instance-wide option tree a
// QuantumGate node needs.
package config

import "time"

// Config is the union of every recognized option.
type Config struct {
	Name                 string
	RequireAuthentication bool
	GlobalSharedSecret    []byte // nil => public mode

	SupportedAlgorithms SupportedAlgorithms
	NumPregeneratedKeys int

	Listeners Listeners
	Relays    Relays
	Security  Security
}

type SupportedAlgorithms struct {
	Hash          []string
	PrimaryAsym   []string
	SecondaryAsym []string
	Symmetric     []string
	Compression   []string
}

type ListenerConfig struct {
	Enable                bool
	Ports                 []uint16
	RequireAuthentication bool
	Discoverable          bool
}

type Listeners struct {
	TCP               ListenerConfig
	UDP               ListenerConfig
	BTH               ListenerConfig
	EnableNATTraversal bool
}

type Relays struct {
	Enable                  bool
	IPv4ExcludedNetworksCIDR []string
	IPv6ExcludedNetworksCIDR []string
}

type MessageSecurity struct {
	AgeTolerance              time.Duration
	MinRandomDataPrefixSize   int
	MaxRandomDataPrefixSize   int
	MinInternalRandomDataSize int
	MaxInternalRandomDataSize int
	ExtenderGracePeriod       time.Duration
}

type KeyUpdateSecurity struct {
	MinInterval                   time.Duration
	MaxInterval                   time.Duration
	MaxDuration                   time.Duration
	RequireAfterNumProcessedBytes uint64
	GraceDuration                 time.Duration
}

type NoiseSecurity struct {
	Enabled                bool
	TimeInterval           time.Duration
	MinMessagesPerInterval int
	MaxMessagesPerInterval int
	MinMessageSize         int
	MaxMessageSize         int
}

type IPConnectionAttempts struct {
	MaxPerInterval int
	Interval       time.Duration
}

type GeneralSecurity struct {
	ConnectTimeout                  time.Duration
	MaxHandshakeDelay               time.Duration
	MaxHandshakeDuration            time.Duration
	SuspendTimeout                  time.Duration
	MaxSuspendDuration              time.Duration
	IPConnectionAttempts            IPConnectionAttempts
	IPReputationImprovementInterval time.Duration
}

type RelaySecurity struct {
	ConnectTimeout       time.Duration
	GracePeriod          time.Duration
	MaxSuspendDuration   time.Duration
	ConnectionAttempts   IPConnectionAttempts
}

type UDPSecurity struct {
	ConnectCookieRequirementThreshold int
	CookieExpirationInterval          time.Duration
	MaxMTUDiscoveryDelay              time.Duration
	MaxNumDecoyMessages               int
	MaxDecoyMessageInterval           time.Duration
}

type Security struct {
	Message   MessageSecurity
	KeyUpdate KeyUpdateSecurity
	Noise     NoiseSecurity
	General   GeneralSecurity
	Relay     RelaySecurity
	UDP       UDPSecurity
}

// Copy makes a deep copy of Config; the result aliases no memory with the
// original (mirrors wgcfg.Config.Copy).
func (c Config) Copy() Config {
	res := c
	if res.GlobalSharedSecret != nil {
		res.GlobalSharedSecret = append([]byte{}, res.GlobalSharedSecret...)
	}
	res.SupportedAlgorithms = c.SupportedAlgorithms.copy()
	res.Listeners.TCP.Ports = append([]uint16{}, c.Listeners.TCP.Ports...)
	res.Listeners.UDP.Ports = append([]uint16{}, c.Listeners.UDP.Ports...)
	res.Listeners.BTH.Ports = append([]uint16{}, c.Listeners.BTH.Ports...)
	res.Relays.IPv4ExcludedNetworksCIDR = append([]string{}, c.Relays.IPv4ExcludedNetworksCIDR...)
	res.Relays.IPv6ExcludedNetworksCIDR = append([]string{}, c.Relays.IPv6ExcludedNetworksCIDR...)
	return res
}

func (s SupportedAlgorithms) copy() SupportedAlgorithms {
	return SupportedAlgorithms{
		Hash:          append([]string{}, s.Hash...),
		PrimaryAsym:   append([]string{}, s.PrimaryAsym...),
		SecondaryAsym: append([]string{}, s.SecondaryAsym...),
		Symmetric:     append([]string{}, s.Symmetric...),
		Compression:   append([]string{}, s.Compression...),
	}
}

// Default returns the built-in defaults. Fields not set here (Name, the
// algorithm lists, listeners, relays) keep their zero values.
func Default() Config {
	return Config{
		NumPregeneratedKeys: 8,
		Security: Security{
			Message: MessageSecurity{
				AgeTolerance:            30 * time.Second,
				MinRandomDataPrefixSize: 0,
				MaxRandomDataPrefixSize: 64,
				MinInternalRandomDataSize: 0,
				MaxInternalRandomDataSize: 256,
				ExtenderGracePeriod:     5 * time.Second,
			},
			KeyUpdate: KeyUpdateSecurity{
				MinInterval:                   5 * time.Minute,
				MaxInterval:                   10 * time.Minute,
				MaxDuration:                   30 * time.Second,
				RequireAfterNumProcessedBytes: 1 << 34,
				GraceDuration:                 30 * time.Second,
			},
			Noise: NoiseSecurity{
				Enabled:                false,
				TimeInterval:           time.Minute,
				MinMessagesPerInterval: 0,
				MaxMessagesPerInterval: 4,
				MinMessageSize:         64,
				MaxMessageSize:         1024,
			},
			General: GeneralSecurity{
				ConnectTimeout:        5 * time.Second,
				MaxHandshakeDelay:     1 * time.Second,
				MaxHandshakeDuration:  10 * time.Second,
				SuspendTimeout:        30 * time.Second,
				MaxSuspendDuration:    5 * time.Minute,
				IPConnectionAttempts: IPConnectionAttempts{
					MaxPerInterval: 10,
					Interval:       time.Minute,
				},
				IPReputationImprovementInterval: time.Minute,
			},
			Relay: RelaySecurity{
				ConnectTimeout:     5 * time.Second,
				GracePeriod:        30 * time.Second,
				MaxSuspendDuration: 5 * time.Minute,
				ConnectionAttempts: IPConnectionAttempts{
					MaxPerInterval: 10,
					Interval:       time.Minute,
				},
			},
			UDP: UDPSecurity{
				ConnectCookieRequirementThreshold: 512,
				CookieExpirationInterval:          30 * time.Second,
				MaxMTUDiscoveryDelay:              5 * time.Second,
				MaxNumDecoyMessages:               4,
				MaxDecoyMessageInterval:           2 * time.Second,
			},
		},
	}
}
