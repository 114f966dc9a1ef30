package multisig

import (
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
)

func operation(opType xdr.OperationType, source string) xdr.Operation {
	op := xdr.Operation{Body: xdr.OperationBody{Type: opType}}
	if source != "" {
		muxed := xdr.MustMuxedAddress(source)
		op.SourceAccount = &muxed
	}
	return op
}

func TestOperationLevel(t *testing.T) {
	assert.Equal(t, LevelMed, OperationLevel(xdr.OperationTypePayment))
	assert.Equal(t, LevelMed, OperationLevel(xdr.OperationTypeCreateAccount))
	assert.Equal(t, LevelLow, OperationLevel(xdr.OperationTypeBumpSequence))
	assert.Equal(t, LevelHigh, OperationLevel(xdr.OperationTypeSetOptions))
	assert.Equal(t, LevelHigh, OperationLevel(xdr.OperationTypeAccountMerge))
	// not in the table
	assert.Equal(t, LevelHigh, OperationLevel(xdr.OperationTypeClawback))
	assert.Equal(t, LevelHigh, OperationLevel(xdr.OperationTypeInvokeHostFunction))
}

func TestRequiredLevelEmptyIsHigh(t *testing.T) {
	assert.Equal(t, LevelHigh, RequiredLevel(nil))
	assert.Equal(t, LevelHigh, RequiredLevel([]xdr.Operation{}))
}

func TestRequiredLevelIsMonotonic(t *testing.T) {
	sequence := []xdr.OperationType{
		xdr.OperationTypeBumpSequence,
		xdr.OperationTypeAllowTrust,
		xdr.OperationTypePayment,
		xdr.OperationTypeInflation,
		xdr.OperationTypeManageData,
		xdr.OperationTypeSetOptions,
		xdr.OperationTypeBumpSequence,
	}

	var ops []xdr.Operation
	previous := LevelLow
	for _, opType := range sequence {
		ops = append(ops, operation(opType, ""))
		level := RequiredLevel(ops)
		assert.GreaterOrEqual(t, int(level), int(previous), "adding %s lowered the level", opType)
		previous = level
	}
	assert.Equal(t, LevelHigh, previous)
}

func TestRequiredLevelMax(t *testing.T) {
	ops := []xdr.Operation{
		operation(xdr.OperationTypeBumpSequence, ""),
		operation(xdr.OperationTypePayment, ""),
	}
	assert.Equal(t, LevelMed, RequiredLevel(ops))
	assert.Equal(t, LevelLow, RequiredLevel(ops[:1]))
}

func TestAccountOperations(t *testing.T) {
	root := keypair.MustRandom().Address()
	other := keypair.MustRandom().Address()

	ops := []xdr.Operation{
		operation(xdr.OperationTypePayment, ""),
		operation(xdr.OperationTypeSetOptions, other),
		operation(xdr.OperationTypeBumpSequence, root),
	}

	rootOps := AccountOperations(root, ops, root)
	assert.Len(t, rootOps, 2)
	assert.Equal(t, xdr.OperationTypePayment, rootOps[0].Body.Type)
	assert.Equal(t, xdr.OperationTypeBumpSequence, rootOps[1].Body.Type)

	otherOps := AccountOperations(root, ops, other)
	assert.Len(t, otherOps, 1)
	assert.Equal(t, xdr.OperationTypeSetOptions, otherOps[0].Body.Type)

	assert.Empty(t, AccountOperations(root, ops, keypair.MustRandom().Address()))
}

func TestRequiredThreshold(t *testing.T) {
	root := keypair.MustRandom().Address()
	other := keypair.MustRandom().Address()
	thresholds := Thresholds{Low: 1, Med: 2, High: 3}

	ops := []xdr.Operation{
		operation(xdr.OperationTypePayment, ""),
		operation(xdr.OperationTypeBumpSequence, other),
	}

	assert.Equal(t, uint8(2), RequiredThreshold(root, ops, root, thresholds))
	assert.Equal(t, uint8(1), RequiredThreshold(root, ops, other, thresholds))
	// an account without operations falls back to high
	assert.Equal(t, uint8(3), RequiredThreshold(root, ops, keypair.MustRandom().Address(), thresholds))
}

func TestThresholdsForInvalidLevelPanics(t *testing.T) {
	assert.Panics(t, func() { Thresholds{}.ForLevel(ThresholdLevel(7)) })
}

func TestSourceAccounts(t *testing.T) {
	root := keypair.MustRandom().Address()
	other := keypair.MustRandom().Address()

	ops := []xdr.Operation{
		operation(xdr.OperationTypePayment, other),
		operation(xdr.OperationTypePayment, root),
		operation(xdr.OperationTypePayment, ""),
		operation(xdr.OperationTypePayment, other),
	}
	assert.Equal(t, []string{root, other}, SourceAccounts(root, ops))
}
