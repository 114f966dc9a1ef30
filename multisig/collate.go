package multisig

import (
	"bytes"
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"

	"github.com/SunceWallet/signature-coordinator/faults"
)

// HintMatches checks the hint of a decorated signature against the hint of address.
// It is a cheap filter, not a verification.
func HintMatches(sig xdr.DecoratedSignature, address string) bool {
	kp, err := keypair.ParseAddress(address)
	if err != nil {
		return false
	}
	return sig.Hint == xdr.SignatureHint(kp.Hint())
}

// VerifySignature checks that sig is a signature of address over hash
func VerifySignature(hash [32]byte, sig xdr.DecoratedSignature, address string) error {
	if !HintMatches(sig, address) {
		return faults.InvalidSignature("signature hint does not match %s", address)
	}
	kp, err := keypair.ParseAddress(address)
	if err != nil {
		return faults.InvalidSignature("invalid signer key %s", address)
	}
	if err := kp.Verify(hash[:], sig.Signature); err != nil {
		return faults.InvalidSignature("signature of %s does not sign the transaction", address)
	}
	return nil
}

// MatchSigner returns the key among candidates that made sig.
// Only keys whose hint matches are verified.
func MatchSigner(hash [32]byte, sig xdr.DecoratedSignature, candidates []string) (string, error) {
	for _, candidate := range candidates {
		if !HintMatches(sig, candidate) {
			continue
		}
		if err := VerifySignature(hash, sig, candidate); err == nil {
			return candidate, nil
		}
	}
	return "", faults.InvalidSignature("signature does not belong to any co-signer of the transaction")
}

// EncodeSignature returns the XDR bytes of a decorated signature
func EncodeSignature(sig xdr.DecoratedSignature) ([]byte, error) {
	b, err := sig.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode decorated signature")
	}
	return b, nil
}

// DecodeSignature parses the XDR bytes of a decorated signature
func DecodeSignature(b []byte) (xdr.DecoratedSignature, error) {
	var sig xdr.DecoratedSignature
	if err := sig.UnmarshalBinary(b); err != nil {
		return sig, faults.InvalidSignature("malformed decorated signature")
	}
	return sig, nil
}

// DecodeSignatureBase64 parses the base64 wire form of a decorated signature
func DecodeSignatureBase64(s string) (xdr.DecoratedSignature, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return xdr.DecoratedSignature{}, faults.InvalidSignature("signature is not valid base64")
	}
	return DecodeSignature(b)
}

func containsSignature(haystack []Signature, needle Signature) bool {
	for _, sig := range haystack {
		if bytes.Equal(sig.Decorated, needle.Decorated) {
			return true
		}
	}
	return false
}

// Merge returns the signatures of incoming that are not in known, in the order of incoming.
// Signatures are equal when their encoded bytes are equal, so a signer
// may contribute more than one signature.
func Merge(known, incoming []Signature) []Signature {
	var added []Signature
	for _, sig := range incoming {
		if containsSignature(known, sig) || containsSignature(added, sig) {
			continue
		}
		added = append(added, sig)
	}
	return added
}
