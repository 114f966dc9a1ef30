package multisig

import (
	"github.com/SunceWallet/signature-coordinator/faults"
)

func signersWithKey(signers []Signer, key string) []Signer {
	var result []Signer
	for _, signer := range signers {
		if signer.AccountID == key {
			result = append(result, signer)
		}
	}
	return result
}

// SignedWeights sums, per source account, the weights of the signers that
// have at least one signature. Signers with a zero weight never count.
func SignedWeights(accounts []SourceAccount, signers []Signer, signatures []Signature) (map[string]int64, error) {
	signed := make(map[string]bool, len(signatures))
	for _, sig := range signatures {
		if len(signersWithKey(signers, sig.Signer)) == 0 {
			return nil, faults.InvariantViolation("invariant violation: no signer record for %s", sig.Signer)
		}
		signed[sig.Signer] = true
	}

	weights := make(map[string]int64, len(accounts))
	for _, account := range accounts {
		counted := make(map[string]bool)
		var sum int64
		for _, signer := range signers {
			if signer.SourceAccountID != account.AccountID || signer.Weight <= 0 {
				continue
			}
			if !signed[signer.AccountID] || counted[signer.AccountID] {
				continue
			}
			counted[signer.AccountID] = true
			sum += int64(signer.Weight)
		}
		weights[account.AccountID] = sum
	}
	return weights, nil
}

// IsSufficient reports whether every source account reached its threshold.
// A request without source accounts is never sufficient.
func IsSufficient(accounts []SourceAccount, signers []Signer, signatures []Signature) (bool, error) {
	if len(accounts) == 0 {
		return false, nil
	}
	weights, err := SignedWeights(accounts, signers, signatures)
	if err != nil {
		return false, err
	}
	for _, account := range accounts {
		if weights[account.AccountID] < int64(account.Threshold) {
			return false, nil
		}
	}
	return true, nil
}

// SignerIsSufficient reports whether the weight of key alone meets the
// threshold of every source account. The key has to be a signer of each of them.
// It does not look at signatures, the caller has to verify the signature of key first.
func SignerIsSufficient(accounts []SourceAccount, signers []Signer, key string) (bool, error) {
	keySigners := signersWithKey(signers, key)
	if len(keySigners) == 0 {
		return false, faults.InvariantViolation("invariant violation: no signer record for %s", key)
	}
	if len(accounts) == 0 {
		return false, nil
	}
	for _, account := range accounts {
		var weight int32
		found := false
		for _, signer := range keySigners {
			if signer.SourceAccountID == account.AccountID {
				weight = signer.Weight
				found = true
				break
			}
		}
		if !found || weight <= 0 || weight < int32(account.Threshold) {
			return false, nil
		}
	}
	return true, nil
}
