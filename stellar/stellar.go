// Package stellar talks to the Stellar network and decodes the transactions
// and transaction requests the coordinator works with.
package stellar

import (
	"github.com/pkg/errors"
	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
)

var (
	ErrUnknownNetwork    = errors.New("network is not supported")
	ErrInvalidAddress    = errors.New("invalid Stellar address")
	ErrFeeBumpNotAllowed = errors.New("fee bump transactions are not supported")
)

// NetworkPassphrase gets the Stellar network passphrase based on a network name
func NetworkPassphrase(name string) (string, error) {
	switch name {
	case "testnet":
		return network.TestNetworkPassphrase, nil
	case "production", "public", "pubnet":
		return network.PublicNetworkPassphrase, nil
	default:
		return "", errors.Wrap(ErrUnknownNetwork, name)
	}
}

// DefaultHorizonURL returns the public horizon server of a known network
func DefaultHorizonURL(passphrase string) (string, error) {
	switch passphrase {
	case network.TestNetworkPassphrase:
		return "https://horizon-testnet.stellar.org/", nil
	case network.PublicNetworkPassphrase:
		return "https://horizon.stellar.org/", nil
	default:
		return "", ErrUnknownNetwork
	}
}

func IsValidStellarAddress(address string) bool {
	return strkey.IsValidEd25519PublicKey(address)
}
