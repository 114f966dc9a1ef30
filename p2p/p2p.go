/*
Package p2p has supporting libp2p functionality.

Cosigners run a libp2p node whose identity is their Stellar signing key, so
the peer id of a signer can be derived from its Stellar address.
*/
package p2p

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog/log"
	"github.com/stellar/go/strkey"
)

func GetPeerIDFromStellarAddress(address string) (peerID peer.ID, err error) {
	versionbyte, pubkeydata, err := strkey.DecodeAny(address)
	if err != nil {
		return
	}
	if versionbyte != strkey.VersionByteAccountID {
		err = fmt.Errorf("%s is not a valid Stellar address", address)
		return
	}
	libp2pPubKey, err := crypto.UnmarshalEd25519PublicKey(pubkeydata)
	if err != nil {
		return
	}

	peerID, err = peer.IDFromPublicKey(libp2pPubKey)
	return
}

// PeerIDs maps Stellar addresses to peer ids.
// Duplicates are dropped, addresses that are not account ids are skipped.
func PeerIDs(addresses []string) []peer.ID {
	seen := make(map[peer.ID]bool, len(addresses))
	ids := make([]peer.ID, 0, len(addresses))
	for _, address := range addresses {
		id, err := GetPeerIDFromStellarAddress(address)
		if err != nil {
			log.Debug().Err(err).Str("address", address).Msg("skipping address without peer id")
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
