package multisig

import (
	"crypto/sha256"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SunceWallet/signature-coordinator/faults"
)

func signHash(t *testing.T, kp *keypair.Full, hash [32]byte) xdr.DecoratedSignature {
	t.Helper()
	sig, err := kp.SignDecorated(hash[:])
	require.NoError(t, err)
	return sig
}

func collected(t *testing.T, signer string, sig xdr.DecoratedSignature) Signature {
	t.Helper()
	b, err := EncodeSignature(sig)
	require.NoError(t, err)
	return Signature{Signer: signer, Decorated: b}
}

func TestHintMatches(t *testing.T) {
	kp := keypair.MustRandom()
	other := keypair.MustRandom()
	sig := signHash(t, kp, sha256.Sum256([]byte("tx")))

	assert.True(t, HintMatches(sig, kp.Address()))
	assert.False(t, HintMatches(sig, other.Address()))
	assert.False(t, HintMatches(sig, "not an address"))
}

func TestVerifySignature(t *testing.T) {
	kp := keypair.MustRandom()
	hash := sha256.Sum256([]byte("tx"))

	assert.NoError(t, VerifySignature(hash, signHash(t, kp, hash), kp.Address()))

	// right key, wrong content
	wrongContent := signHash(t, kp, sha256.Sum256([]byte("other tx")))
	err := VerifySignature(hash, wrongContent, kp.Address())
	assert.True(t, faults.Is(err, faults.KindInvalidSignature))

	// hint mismatch is rejected before verification
	err = VerifySignature(hash, signHash(t, keypair.MustRandom(), hash), kp.Address())
	assert.True(t, faults.Is(err, faults.KindInvalidSignature))
}

func TestMatchSigner(t *testing.T) {
	first := keypair.MustRandom()
	second := keypair.MustRandom()
	hash := sha256.Sum256([]byte("tx"))
	candidates := []string{first.Address(), second.Address()}

	key, err := MatchSigner(hash, signHash(t, second, hash), candidates)
	require.NoError(t, err)
	assert.Equal(t, second.Address(), key)

	_, err = MatchSigner(hash, signHash(t, keypair.MustRandom(), hash), candidates)
	assert.True(t, faults.Is(err, faults.KindInvalidSignature))
}

func TestSignatureEncodingRoundtrip(t *testing.T) {
	kp := keypair.MustRandom()
	sig := signHash(t, kp, sha256.Sum256([]byte("tx")))
	c := collected(t, kp.Address(), sig)

	decoded, err := DecodeSignatureBase64(c.Base64())
	require.NoError(t, err)
	assert.Equal(t, sig.Hint, decoded.Hint)
	assert.Equal(t, sig.Signature, decoded.Signature)

	_, err = DecodeSignatureBase64("%%%")
	assert.True(t, faults.Is(err, faults.KindInvalidSignature))
	_, err = DecodeSignature([]byte{1, 2})
	assert.True(t, faults.Is(err, faults.KindInvalidSignature))
}

func TestMergeIsIdempotent(t *testing.T) {
	hash := sha256.Sum256([]byte("tx"))
	a, b := keypair.MustRandom(), keypair.MustRandom()
	known := []Signature{
		collected(t, a.Address(), signHash(t, a, hash)),
		collected(t, b.Address(), signHash(t, b, hash)),
	}

	assert.Empty(t, Merge(known, known))
}

func TestMergeDisjointKeepsOrder(t *testing.T) {
	hash := sha256.Sum256([]byte("tx"))
	a, b, c := keypair.MustRandom(), keypair.MustRandom(), keypair.MustRandom()
	sigA := collected(t, a.Address(), signHash(t, a, hash))
	sigB := collected(t, b.Address(), signHash(t, b, hash))
	sigC := collected(t, c.Address(), signHash(t, c, hash))

	added := Merge([]Signature{sigA}, []Signature{sigC, sigA, sigB, sigC})
	assert.Equal(t, []Signature{sigC, sigB}, added)

	union := append([]Signature{sigA}, added...)
	assert.Empty(t, Merge(union, []Signature{sigB, sigC}))
}

func TestMergeKeepsDifferentEncodingsOfSameSigner(t *testing.T) {
	a := keypair.MustRandom()
	first := collected(t, a.Address(), signHash(t, a, sha256.Sum256([]byte("tx"))))
	second := collected(t, a.Address(), signHash(t, a, sha256.Sum256([]byte("tx 2"))))

	assert.Equal(t, []Signature{second}, Merge([]Signature{first}, []Signature{second}))
}
