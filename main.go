package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/SunceWallet/signature-coordinator/api/coordinator"
	"github.com/SunceWallet/signature-coordinator/api/server"
	"github.com/SunceWallet/signature-coordinator/p2p"
	"github.com/SunceWallet/signature-coordinator/state"
)

var Version = "development"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(Version)
		return
	}

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.Version {
		fmt.Println(Version)
		return
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Info().Str("version", Version).Strs("networks", cfg.Networks).Msg("starting signature coordinator")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("signature coordinator stopped")
	}
	log.Info().Msg("exiting")
}

func run(ctx context.Context, cfg Config) error {
	store, err := state.Open(cfg.Database)
	if err != nil {
		return errors.Wrap(err, "failed to open the database")
	}
	defer store.Close()

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	for _, passphrase := range registry.Passphrases() {
		gw, _ := registry.Gateway(passphrase)
		log.Info().Str("network", passphrase).Str("horizon", gw.URL()).Msg("stellar network configured")
	}

	notifiers := coordinator.Notifiers{coordinator.LogNotifier{}}
	opts := []coordinator.Option{coordinator.WithMaxTTL(cfg.MaxTTL)}

	signer, err := cfg.RequestSigner()
	if err != nil {
		return err
	}
	if signer != nil {
		log.Info().Str("origin_domain", signer.OriginDomain).Str("signing_key", signer.Address()).Msg("signing issued requests")
		opts = append(opts, coordinator.WithRequestSigner(signer, cfg.BaseURL))
	}

	var h host.Host
	if cfg.P2P.Enabled() {
		var (
			router routing.PeerRouting
			relay  *peer.AddrInfo
		)
		h, router, relay, err = p2p.NewHost(ctx, cfg.P2P)
		if err != nil {
			return errors.Wrap(err, "failed to create p2p host")
		}
		defer h.Close()
		notifiers = append(notifiers, coordinator.NewPeerNotifier(h, coordinator.RelayConnector(h, router, relay)))
	} else {
		log.Info().Msg("p2p disabled, signers are not notified over the relay")
	}
	opts = append(opts, coordinator.WithNotifier(notifiers))

	c := coordinator.New(store, registry, opts...)
	if h != nil {
		if err := coordinator.NewCoordinatorServer(h, c); err != nil {
			return err
		}
		log.Info().Msg("Registered CoordinatorService")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, c, server.Config{
			Listen:            cfg.Listen,
			PathPrefix:        strings.TrimSuffix(cfg.PathPrefix, "/"),
			CorsOrigins:       cfg.CorsOrigins,
			RequestSigningKey: c.RequestSigningKey(),
			ServeStellarToml:  cfg.ServeStellarToml,
		})
	})
	g.Go(func() error {
		return c.RunExpiry(ctx, cfg.ExpiryInterval)
	})

	log.Info().Msg("awaiting signal")
	return g.Wait()
}
