package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(nil, noEnv)
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Listen)
	assert.Equal(t, []string{"testnet", "production"}, cfg.Networks)
	assert.Equal(t, 30*24*time.Hour, cfg.MaxTTL)
	assert.False(t, cfg.P2P.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestParseConfigEnvironment(t *testing.T) {
	env := map[string]string{
		"LISTEN":   ":8080",
		"NETWORKS": "testnet",
		"MAX_TTL":  "1h",
		"DEBUG":    "true",
	}
	cfg, err := parseConfig([]string{"--listen", ":9000"}, func(key string) string { return env[key] })
	require.NoError(t, err)
	// flags win over the environment
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, []string{"testnet"}, cfg.Networks)
	assert.Equal(t, time.Hour, cfg.MaxTTL)
	assert.True(t, cfg.Debug)

	_, err = parseConfig(nil, func(key string) string {
		if key == "MAX_TTL" {
			return "forever"
		}
		return ""
	})
	assert.Error(t, err)
}

func TestParseConfigEnvFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("DATABASE=/tmp/signatures.db\nPATH_PREFIX=/api\nLISTEN=:4000\n"), 0o600))

	env := map[string]string{"LISTEN": ":5000"}
	cfg, err := parseConfig([]string{"--env-file", file}, func(key string) string { return env[key] })
	require.NoError(t, err)
	assert.Equal(t, "/tmp/signatures.db", cfg.Database)
	assert.Equal(t, "/api", cfg.PathPrefix)
	// the process environment wins over the file
	assert.Equal(t, ":5000", cfg.Listen)

	_, err = parseConfig([]string{"--env-file", filepath.Join(t.TempDir(), "missing")}, noEnv)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := parseConfig(nil, noEnv)
		require.NoError(t, err)
		return cfg
	}

	c := valid()
	c.Networks = []string{"futurenet"}
	assert.Error(t, c.Validate())

	c = valid()
	c.Networks = nil
	assert.Error(t, c.Validate())

	c = valid()
	c.PathPrefix = "api"
	assert.Error(t, c.Validate())

	c = valid()
	c.MaxTTL = 0
	assert.Error(t, c.Validate())

	c = valid()
	c.P2P.Secret = "SBVM45L3DA4QA4GRGOZVOKEMRI6LGJXBGOFGHUTCWL3LW6H7KSHCYUTS"
	assert.Error(t, c.Validate(), "p2p needs a relay and psk")
}

func TestConfigRequestSigning(t *testing.T) {
	secret := keypair.MustRandom()
	env := map[string]string{
		"SIGNING_SECRET":     secret.Seed(),
		"BASE_URL":           "https://multisig.example.com/api",
		"SERVE_STELLAR_TOML": "true",
	}
	cfg, err := parseConfig(nil, func(key string) string { return env[key] })
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.ServeStellarToml)

	signer, err := cfg.RequestSigner()
	require.NoError(t, err)
	assert.Equal(t, "multisig.example.com", signer.OriginDomain)
	assert.Equal(t, secret.Address(), signer.Address())

	c := cfg
	c.BaseURL = ""
	assert.Error(t, c.Validate(), "signing needs a base url")

	c = cfg
	c.BaseURL = "multisig.example.com"
	assert.Error(t, c.Validate(), "base url needs a scheme")

	c = cfg
	c.SigningSecret = secret.Address()
	assert.Error(t, c.Validate(), "an address is not a secret")

	c = cfg
	c.SigningSecret = ""
	assert.Error(t, c.Validate(), "stellar.toml needs a signing key")

	c.ServeStellarToml = false
	assert.NoError(t, c.Validate())
	signer, err = c.RequestSigner()
	require.NoError(t, err)
	assert.Nil(t, signer)
}

func TestConfigRegistry(t *testing.T) {
	c := Config{Networks: []string{"testnet", "production"}, HorizonTestnet: "http://localhost:8000/"}
	registry, err := c.Registry()
	require.NoError(t, err)

	testnet, err := registry.Gateway(network.TestNetworkPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/", testnet.URL())

	pubnet, err := registry.Gateway(network.PublicNetworkPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "https://horizon.stellar.org/", pubnet.URL())
}
