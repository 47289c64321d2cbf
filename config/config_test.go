// SPDX-License-Identifier: MIT

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigRoundTripsThroughWriteParse(t *testing.T) {
	cfg := Default()
	cfg.Name = "home"
	cfg.RequireAuthentication = true
	cfg.GlobalSharedSecret = []byte{1, 2, 3, 4}
	cfg.SupportedAlgorithms.Hash = []string{"sha256", "blake2b"}
	cfg.Listeners.TCP = ListenerConfig{Enable: true, Ports: []uint16{9999}, RequireAuthentication: true}
	cfg.Relays.Enable = true
	cfg.Relays.IPv4ExcludedNetworksCIDR = []string{"10.0.0.0/8"}

	doc := cfg.Write()
	parsed, err := Parse(doc)
	require.NoError(t, err)

	require.Equal(t, cfg.Name, parsed.Name)
	require.Equal(t, cfg.RequireAuthentication, parsed.RequireAuthentication)
	require.Equal(t, cfg.GlobalSharedSecret, parsed.GlobalSharedSecret)
	require.Equal(t, cfg.SupportedAlgorithms.Hash, parsed.SupportedAlgorithms.Hash)
	require.Equal(t, cfg.Listeners.TCP, parsed.Listeners.TCP)
	require.Equal(t, cfg.Relays, parsed.Relays)
	require.Equal(t, cfg.Security, parsed.Security)
}

func TestParseRejectsUnrecognizedKey(t *testing.T) {
	_, err := Parse("[interface]\nbogus_key=1\n")
	require.Error(t, err)
}

func TestParseRejectsKeyOutsideSection(t *testing.T) {
	_, err := Parse("name=home\n")
	require.Error(t, err)
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	doc := "# a comment\n\n[interface]\nname=home # trailing comment\n"
	cfg, err := Parse(doc)
	require.NoError(t, err)
	require.Equal(t, "home", cfg.Name)
}

func TestCopyDoesNotAliasSlices(t *testing.T) {
	cfg := Default()
	cfg.SupportedAlgorithms.Hash = []string{"sha256"}
	dup := cfg.Copy()
	dup.SupportedAlgorithms.Hash[0] = "blake2b"
	require.Equal(t, "sha256", cfg.SupportedAlgorithms.Hash[0])
}

func TestParseDurationFields(t *testing.T) {
	doc := "[security.message]\nage_tolerance=45s\n"
	cfg, err := Parse(doc)
	require.NoError(t, err)
	require.Equal(t, "45s", cfg.Security.Message.AgeTolerance.String())
}
