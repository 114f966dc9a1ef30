package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/require"

	"github.com/SunceWallet/signature-coordinator/faults"
	"github.com/SunceWallet/signature-coordinator/multisig"
	"github.com/SunceWallet/signature-coordinator/state"
	"github.com/SunceWallet/signature-coordinator/stellar"
)

const testPassphrase = network.TestNetworkPassphrase

type fakeGateway struct {
	mu       sync.Mutex
	accounts map[string]stellar.Account
	status   int
	err      error
	delay    time.Duration

	submits   int32
	envelopes []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{accounts: make(map[string]stellar.Account), status: 200}
}

func (g *fakeGateway) Passphrase() string { return testPassphrase }
func (g *fakeGateway) URL() string        { return "https://horizon.test/" }

func (g *fakeGateway) LoadAccount(ctx context.Context, id string) (stellar.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	account, ok := g.accounts[id]
	if !ok {
		return stellar.Account{}, faults.InvalidRequest("account %s does not exist", id)
	}
	return account, nil
}

func (g *fakeGateway) Submit(ctx context.Context, envelope string) (stellar.SubmitResult, error) {
	atomic.AddInt32(&g.submits, 1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	g.mu.Lock()
	g.envelopes = append(g.envelopes, envelope)
	g.mu.Unlock()
	if g.err != nil {
		return stellar.SubmitResult{}, g.err
	}
	return stellar.SubmitResult{StatusCode: g.status}, nil
}

func (g *fakeGateway) Submits() int {
	return int(atomic.LoadInt32(&g.submits))
}

// addAccount registers an account with the given med threshold and signers
func (g *fakeGateway) addAccount(id string, med uint8, signers map[string]int32) {
	account := stellar.Account{
		ID:         id,
		Thresholds: multisig.Thresholds{Low: 1, Med: med, High: med},
	}
	for key, weight := range signers {
		account.Signers = append(account.Signers, stellar.AccountSigner{Key: key, Weight: weight, Type: "ed25519_public_key"})
	}
	g.mu.Lock()
	g.accounts[id] = account
	g.mu.Unlock()
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []RequestView
	signers [][]string
}

func (n *recordingNotifier) Notify(ctx context.Context, view RequestView, signers []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, view)
	n.signers = append(n.signers, signers)
}

func (n *recordingNotifier) Updates() []RequestView {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]RequestView(nil), n.updates...)
}

type testEnv struct {
	coordinator *Coordinator
	store       *state.Store
	gateway     *fakeGateway
	notifier    *recordingNotifier
	now         time.Time
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "coordinator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:    store,
		gateway:  newFakeGateway(),
		notifier: &recordingNotifier{},
		now:      time.Now(),
	}
	opts = append([]Option{
		WithNotifier(env.notifier),
		WithClock(func() time.Time { return env.now }),
	}, opts...)
	env.coordinator = New(store, stellar.NewRegistry(env.gateway), opts...)
	return env
}

// paymentTx builds an unsigned payment from source
func paymentTx(t *testing.T, source string, maxTime int64) *txnbuild.Transaction {
	t.Helper()
	account := txnbuild.NewSimpleAccount(source, 1)
	timebounds := txnbuild.NewInfiniteTimeout()
	if maxTime > 0 {
		timebounds = txnbuild.NewTimebounds(0, maxTime)
	}
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: keypair.MustRandom().Address(),
				Amount:      "1",
				Asset:       txnbuild.NativeAsset{},
			},
		},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: timebounds},
	})
	require.NoError(t, err)
	return tx
}

func signed(t *testing.T, tx *txnbuild.Transaction, signers ...*keypair.Full) string {
	t.Helper()
	signedTx, err := tx.Sign(testPassphrase, signers...)
	require.NoError(t, err)
	envelope, err := signedTx.Base64()
	require.NoError(t, err)
	return envelope
}

func (env *testEnv) createRequest(t *testing.T, tx *txnbuild.Transaction, callback string) RequestView {
	t.Helper()
	envelope, err := tx.Base64()
	require.NoError(t, err)
	view, err := env.coordinator.CreateRequest(context.Background(), stellar.BuildRequestURI(envelope, callback, testPassphrase))
	require.NoError(t, err)
	return view
}

func (env *testEnv) status(t *testing.T, hash string) multisig.Status {
	t.Helper()
	req, err := env.store.GetByHash(context.Background(), hash)
	require.NoError(t, err)
	return req.Status
}

// pausingStore holds the first callers reads of the signatures at a barrier
// until all of them have read, so they all see the signatures before any of
// them saves its own.
type pausingStore struct {
	*state.Store
	armed   atomic.Bool
	reads   atomic.Int32
	callers int32
	arrived sync.WaitGroup
}

func (s *pausingStore) arm(callers int) {
	s.callers = int32(callers)
	s.arrived.Add(callers)
	s.armed.Store(true)
}

func (s *pausingStore) GetSignatures(ctx context.Context, requestID string) ([]multisig.Signature, error) {
	sigs, err := s.Store.GetSignatures(ctx, requestID)
	if s.armed.Load() && s.reads.Add(1) <= s.callers {
		s.arrived.Done()
		s.arrived.Wait()
	}
	return sigs, err
}

// failingStatusStore fails status updates to the given status
type failingStatusStore struct {
	*state.Store
	to  multisig.Status
	err error
}

func (s *failingStatusStore) UpdateStatus(ctx context.Context, id string, from, to multisig.Status) (bool, error) {
	if to == s.to {
		return false, s.err
	}
	return s.Store.UpdateStatus(ctx, id, from, to)
}

func (s *failingStatusStore) MarkFailed(ctx context.Context, id string, from multisig.Status, cause string) (bool, error) {
	if s.to == multisig.StatusFailed {
		return false, s.err
	}
	return s.Store.MarkFailed(ctx, id, from, cause)
}

// withStore replaces the store of the coordinator, keeping the gateway, notifier and clock of env
func (env *testEnv) withStore(store Store, opts ...Option) {
	opts = append([]Option{
		WithNotifier(env.notifier),
		WithClock(func() time.Time { return env.now }),
	}, opts...)
	env.coordinator = New(store, stellar.NewRegistry(env.gateway), opts...)
}
