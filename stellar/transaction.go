package stellar

import (
	"github.com/pkg/errors"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
)

// DecodeTransaction parses a base64 transaction envelope.
// Fee bump envelopes are rejected.
func DecodeTransaction(envelopeXDR string) (*txnbuild.Transaction, error) {
	generic, err := txnbuild.TransactionFromXDR(envelopeXDR)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode transaction envelope")
	}
	tx, ok := generic.Transaction()
	if !ok {
		return nil, ErrFeeBumpNotAllowed
	}
	return tx, nil
}

// TransactionHash returns the network hash of tx, the payload every signature signs
func TransactionHash(tx *txnbuild.Transaction, passphrase string) ([32]byte, error) {
	hash, err := tx.Hash(passphrase)
	if err != nil {
		return hash, errors.Wrap(err, "failed to hash transaction")
	}
	return hash, nil
}

// SourceAccount returns the address of the transaction source account
func SourceAccount(tx *txnbuild.Transaction) string {
	return tx.SourceAccount().AccountID
}

// Operations returns the raw operations of tx
func Operations(tx *txnbuild.Transaction) ([]xdr.Operation, error) {
	env := tx.ToXDR()
	return env.Operations(), nil
}

// WithSignatures returns the base64 envelope of tx carrying exactly sigs
func WithSignatures(tx *txnbuild.Transaction, sigs []xdr.DecoratedSignature) (string, error) {
	cleared, err := tx.ClearSignatures()
	if err != nil {
		return "", errors.Wrap(err, "failed to clear signatures")
	}
	signed, err := cleared.AddSignatureDecorated(sigs...)
	if err != nil {
		return "", errors.Wrap(err, "failed to add signatures")
	}
	return signed.Base64()
}
