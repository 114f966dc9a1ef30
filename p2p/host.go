package p2p

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/stellar/go/strkey"
	"github.com/threefoldtech/libp2p-relay/client"
)

// Config is the p2p configuration of the coordinator node
type Config struct {
	// Secret is the Stellar secret the node identity is derived from
	Secret string
	// Relay is the multiaddress of the relay, including its peer id
	Relay string
	// Psk is the hex encoded 32 byte pre-shared key of the relay network
	Psk string
}

// Enabled reports whether a p2p node should be started
func (c Config) Enabled() bool {
	return c.Secret != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if !strkey.IsValidEd25519SecretSeed(c.Secret) {
		return errors.New("p2p secret is not a valid Stellar secret")
	}
	if c.Relay == "" {
		return errors.New("relay is required when p2p is enabled")
	}
	key, err := hex.DecodeString(c.Psk)
	if err != nil || len(key) != 32 {
		return errors.New("psk must be 32 hex encoded bytes")
	}
	return nil
}

// IdentityFromSecret returns the libp2p key of a Stellar secret, its peer id
// matches GetPeerIDFromStellarAddress of the corresponding address
func IdentityFromSecret(secret string) (crypto.PrivKey, error) {
	seed, err := strkey.Decode(strkey.VersionByteSeed, secret)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size '%d' expecting '%d'", len(seed), ed25519.SeedSize)
	}
	return crypto.UnmarshalEd25519PrivateKey(ed25519.NewKeyFromSeed(seed))
}

// NewHost creates a libp2p host behind the relay, identified by the Stellar secret
func NewHost(ctx context.Context, cfg Config) (host.Host, routing.PeerRouting, *peer.AddrInfo, error) {
	privKey, err := IdentityFromSecret(cfg.Secret)
	if err != nil {
		return nil, nil, nil, err
	}

	key, err := hex.DecodeString(cfg.Psk)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(key) != 32 {
		return nil, nil, nil, errors.New("psk must be 32 bytes long")
	}

	relayAddrInfo, err := peer.AddrInfoFromString(cfg.Relay)
	if err != nil {
		return nil, nil, nil, err
	}

	ar, router, err := client.CreateLibp2pHost(ctx, 0, true, key, privKey, []peer.AddrInfo{*relayAddrInfo})
	if err != nil {
		return nil, nil, nil, err
	}
	// Force the relayfinder of the autorelay to start
	emitReachabilityChanged, err := ar.EventBus().Emitter(new(event.EvtLocalReachabilityChanged))
	if err != nil {
		return nil, nil, nil, err
	}
	err = emitReachabilityChanged.Emit(event.EvtLocalReachabilityChanged{Reachability: network.ReachabilityUnknown})
	if err != nil {
		return nil, nil, nil, err
	}

	LogAddresses(ar)
	return ar, router, relayAddrInfo, nil
}

// LogAddresses logs the full p2p addresses of h
func LogAddresses(h host.Host) {
	partialMA, err := multiaddr.NewMultiaddr(fmt.Sprintf("/p2p/%s", h.ID()))
	if err != nil {
		log.Warn().Err(err).Msg("failed to build p2p multiaddress")
		return
	}
	for _, addr := range h.Addrs() {
		full := addr.Encapsulate(partialMA)
		log.Info().Str("address", full.String()).Msg("p2p node address")
	}
}
