package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"github.com/stellar/go/keypair"

	"github.com/SunceWallet/signature-coordinator/p2p"
	"github.com/SunceWallet/signature-coordinator/stellar"
)

type Config struct {
	Listen      string
	PathPrefix  string
	CorsOrigins []string

	// Database is the path of the sqlite database
	Database string

	// Networks are the Stellar networks requests are accepted for, testnet or production
	Networks       []string
	HorizonTestnet string
	HorizonPubnet  string

	MaxTTL         time.Duration
	ExpiryInterval time.Duration

	// BaseURL is the public url of the service, path prefix included. Its
	// host is the origin domain of signed requests.
	BaseURL string
	// SigningSecret signs the issued transaction requests, requests are not signed if empty
	SigningSecret    string
	ServeStellarToml bool

	P2P p2p.Config

	Debug   bool
	Version bool
}

// envVars maps flags to the environment variables that provide their default
var envVars = map[string]string{
	"listen":             "LISTEN",
	"path-prefix":        "PATH_PREFIX",
	"cors-origins":       "CORS_ORIGINS",
	"database":           "DATABASE",
	"networks":           "NETWORKS",
	"horizon-testnet":    "HORIZON_TESTNET",
	"horizon-pubnet":     "HORIZON_PUBNET",
	"max-ttl":            "MAX_TTL",
	"expiry-interval":    "EXPIRY_INTERVAL",
	"base-url":           "BASE_URL",
	"signing-secret":     "SIGNING_SECRET",
	"serve-stellar-toml": "SERVE_STELLAR_TOML",
	"secret":             "P2P_SECRET",
	"relay":              "RELAY",
	"psk":                "PSK",
	"debug":              "DEBUG",
}

func newFlagSet(cfg *Config, envFile *string) *flag.FlagSet {
	fs := flag.NewFlagSet("signature-coordinator", flag.ContinueOnError)

	fs.StringVar(&cfg.Listen, "listen", ":3000", "address the http server listens on")
	fs.StringVar(&cfg.PathPrefix, "path-prefix", "", "prefix of the http routes, eg /api")
	fs.StringSliceVar(&cfg.CorsOrigins, "cors-origins", []string{"*"}, "allowed CORS origins")

	fs.StringVar(&cfg.Database, "database", "./coordinator.db", "path of the sqlite database")

	fs.StringSliceVar(&cfg.Networks, "networks", []string{"testnet", "production"}, "stellar networks to accept requests for, testnet or production")
	fs.StringVar(&cfg.HorizonTestnet, "horizon-testnet", "", "horizon url for testnet, the public SDF horizon if empty")
	fs.StringVar(&cfg.HorizonPubnet, "horizon-pubnet", "", "horizon url for production, the public SDF horizon if empty")

	fs.DurationVar(&cfg.MaxTTL, "max-ttl", 30*24*time.Hour, "longest time a request accepts signatures")
	fs.DurationVar(&cfg.ExpiryInterval, "expiry-interval", time.Minute, "interval of the sweep that expires stale requests")

	fs.StringVar(&cfg.BaseURL, "base-url", "", "public url of the service including the path prefix, eg https://example.com/api")
	fs.StringVar(&cfg.SigningSecret, "signing-secret", "", "stellar secret that signs the issued transaction requests")
	fs.BoolVar(&cfg.ServeStellarToml, "serve-stellar-toml", false, "serve /.well-known/stellar.toml with the request signing key")

	// P2P Configuration
	fs.StringVar(&cfg.P2P.Secret, "secret", "", "stellar secret of the p2p node, p2p is disabled if empty")
	fs.StringVar(&cfg.P2P.Psk, "psk", "", "psk for the relay")
	fs.StringVar(&cfg.P2P.Relay, "relay", "", "relay address")

	fs.StringVar(envFile, "env-file", "", "file with environment variables to load")
	fs.BoolVar(&cfg.Debug, "debug", false, "sets debug level log output")
	fs.BoolVar(&cfg.Version, "version", false, "print the version and exit")
	return fs
}

// parseConfig parses args. Flags that are not given take their value from
// the environment, after loading the env file if one is given.
func parseConfig(args []string, getenv func(string) string) (Config, error) {
	var (
		cfg     Config
		envFile string
	)
	fs := newFlagSet(&cfg, &envFile)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	lookup := getenv
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil {
			return cfg, errors.Wrapf(err, "failed to read env file %s", envFile)
		}
		lookup = func(key string) string {
			if value := getenv(key); value != "" {
				return value
			}
			return fileEnv[key]
		}
	}

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		key, ok := envVars[f.Name]
		if !ok || f.Changed || err != nil {
			return
		}
		if value := lookup(key); value != "" {
			if setErr := fs.Set(f.Name, value); setErr != nil {
				err = errors.Wrapf(setErr, "invalid value of %s", key)
			}
		}
	})
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.PathPrefix != "" && !strings.HasPrefix(c.PathPrefix, "/") {
		return errors.New("path prefix has to start with /")
	}
	if c.Database == "" {
		return errors.New("database path is required")
	}
	if len(c.Networks) == 0 {
		return errors.New("at least one stellar network is required")
	}
	for _, name := range c.Networks {
		if name != "testnet" && name != "production" {
			return fmt.Errorf("the Stellar network has to be testnet or production, got %q", name)
		}
	}
	if c.MaxTTL <= 0 {
		return errors.New("max ttl has to be positive")
	}
	if c.ExpiryInterval <= 0 {
		return errors.New("expiry interval has to be positive")
	}
	if c.SigningSecret != "" {
		if _, err := keypair.ParseFull(c.SigningSecret); err != nil {
			return errors.Wrap(err, "invalid signing secret")
		}
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("signing requests needs an http(s) base url")
		}
	}
	if c.ServeStellarToml && c.SigningSecret == "" {
		return errors.New("serving stellar.toml needs a signing secret")
	}
	return c.P2P.Validate()
}

// RequestSigner returns the signer of issued requests, nil if requests are not signed
func (c *Config) RequestSigner() (*stellar.RequestSigner, error) {
	if c.SigningSecret == "" {
		return nil, nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base url")
	}
	return stellar.NewRequestSigner(c.SigningSecret, u.Hostname())
}

// Registry creates a horizon gateway for every configured network
func (c *Config) Registry() (*stellar.Registry, error) {
	gateways := make([]stellar.Gateway, 0, len(c.Networks))
	for _, name := range c.Networks {
		passphrase, err := stellar.NetworkPassphrase(name)
		if err != nil {
			return nil, err
		}
		url := c.HorizonTestnet
		if name == "production" {
			url = c.HorizonPubnet
		}
		if url == "" {
			if url, err = stellar.DefaultHorizonURL(passphrase); err != nil {
				return nil, err
			}
		}
		gateways = append(gateways, stellar.NewHorizonGateway(passphrase, url))
	}
	return stellar.NewRegistry(gateways...), nil
}
