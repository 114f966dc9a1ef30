package multisig

import (
	"fmt"

	"github.com/stellar/go/xdr"
)

// ThresholdLevel is the authorization level an operation requires
type ThresholdLevel int

const (
	LevelLow ThresholdLevel = iota + 1
	LevelMed
	LevelHigh
)

func (l ThresholdLevel) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMed:
		return "med"
	case LevelHigh:
		return "high"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// operationLevels maps operation kinds to their threshold level.
// Kinds not listed require LevelHigh.
var operationLevels = map[xdr.OperationType]ThresholdLevel{
	xdr.OperationTypeCreateAccount:                 LevelMed,
	xdr.OperationTypePayment:                       LevelMed,
	xdr.OperationTypePathPaymentStrictReceive:      LevelMed,
	xdr.OperationTypePathPaymentStrictSend:         LevelMed,
	xdr.OperationTypeManageSellOffer:               LevelHigh,
	xdr.OperationTypeManageBuyOffer:                LevelHigh,
	xdr.OperationTypeCreatePassiveSellOffer:        LevelHigh,
	xdr.OperationTypeSetOptions:                    LevelHigh,
	xdr.OperationTypeChangeTrust:                   LevelMed,
	xdr.OperationTypeAllowTrust:                    LevelLow,
	xdr.OperationTypeAccountMerge:                  LevelHigh,
	xdr.OperationTypeInflation:                     LevelLow,
	xdr.OperationTypeManageData:                    LevelMed,
	xdr.OperationTypeBumpSequence:                  LevelLow,
	xdr.OperationTypeCreateClaimableBalance:        LevelMed,
	xdr.OperationTypeClaimClaimableBalance:         LevelMed,
	xdr.OperationTypeBeginSponsoringFutureReserves: LevelLow,
	xdr.OperationTypeEndSponsoringFutureReserves:   LevelLow,
	xdr.OperationTypeRevokeSponsorship:             LevelHigh,
}

// OperationLevel returns the threshold level of an operation kind
func OperationLevel(opType xdr.OperationType) ThresholdLevel {
	if level, ok := operationLevels[opType]; ok {
		return level
	}
	return LevelHigh
}

// RequiredLevel returns the highest level among ops.
// No operations at all also requires LevelHigh.
func RequiredLevel(ops []xdr.Operation) ThresholdLevel {
	if len(ops) == 0 {
		return LevelHigh
	}
	required := LevelLow
	for _, op := range ops {
		if level := OperationLevel(op.Body.Type); level > required {
			required = level
		}
	}
	return required
}

// OperationSource returns the explicit source account of op, or "" if it has none.
func OperationSource(op xdr.Operation) string {
	if op.SourceAccount == nil {
		return ""
	}
	acc := op.SourceAccount.ToAccountId()
	return acc.Address()
}

// AccountOperations returns the operations of a transaction with source txSource
// that need the authorization of account.
func AccountOperations(txSource string, ops []xdr.Operation, account string) []xdr.Operation {
	var result []xdr.Operation
	for _, op := range ops {
		source := OperationSource(op)
		if source == account || (source == "" && account == txSource) {
			result = append(result, op)
		}
	}
	return result
}

// Thresholds are the low, medium and high thresholds of an account
type Thresholds struct {
	Low  uint8
	Med  uint8
	High uint8
}

// ForLevel returns the threshold value for level
func (t Thresholds) ForLevel(level ThresholdLevel) uint8 {
	switch level {
	case LevelLow:
		return t.Low
	case LevelMed:
		return t.Med
	case LevelHigh:
		return t.High
	default:
		panic(fmt.Sprintf("invalid threshold level %d", int(level)))
	}
}

// RequiredThreshold returns the weight account has to reach to authorize
// the operations of a transaction with source txSource.
func RequiredThreshold(txSource string, ops []xdr.Operation, account string, thresholds Thresholds) uint8 {
	level := RequiredLevel(AccountOperations(txSource, ops, account))
	return thresholds.ForLevel(level)
}

// SourceAccounts returns the transaction source followed by the distinct
// explicit operation sources.
func SourceAccounts(txSource string, ops []xdr.Operation) []string {
	sources := []string{txSource}
	seen := map[string]bool{txSource: true}
	for _, op := range ops {
		source := OperationSource(op)
		if source == "" || seen[source] {
			continue
		}
		seen[source] = true
		sources = append(sources, source)
	}
	return sources
}
