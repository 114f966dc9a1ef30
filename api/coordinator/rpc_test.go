package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SunceWallet/signature-coordinator/multisig"
	"github.com/SunceWallet/signature-coordinator/p2p"
)

func newLocalHost(t *testing.T, opts ...libp2p.Option) host.Host {
	t.Helper()
	opts = append(opts, libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	h, err := libp2p.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// directConnector dials the peers in hosts without a relay
func directConnector(self host.Host, hosts ...host.Host) PeerConnector {
	return func(ctx context.Context, id peer.ID) error {
		for _, h := range hosts {
			if h.ID() == id {
				return self.Connect(ctx, peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()})
			}
		}
		return self.Connect(ctx, peer.AddrInfo{ID: id})
	}
}

func TestCoordinatorRPC(t *testing.T) {
	env := newTestEnv(t)
	source := keypair.MustRandom().Address()
	first, second := keypair.MustRandom(), keypair.MustRandom()
	env.gateway.addAccount(source, 2, map[string]int32{first.Address(): 1, second.Address(): 1})
	tx := paymentTx(t, source, 0)
	hash := env.createRequest(t, tx, "").SignatureRequest.Hash

	server := newLocalHost(t)
	require.NoError(t, NewCoordinatorServer(server, env.coordinator))
	cosigner := newLocalHost(t)
	client := NewCoordinatorClient(cosigner, directConnector(cosigner, server), server.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	view, err := client.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, hash, view.SignatureRequest.Hash)
	assert.Len(t, view.Signers, 2)

	_, err = client.Get(ctx, "unknown")
	assert.Error(t, err)

	response, err := client.AddSignatures(ctx, hash, signed(t, tx, first))
	require.NoError(t, err)
	assert.Equal(t, "insufficient authorization", response.Kind)
	assert.Equal(t, "transaction is not yet sufficiently signed", response.Error)
	assert.Equal(t, multisig.StatusPending, response.View.SignatureRequest.Status)

	response, err = client.AddSignatures(ctx, hash, signed(t, tx, keypair.MustRandom()))
	require.NoError(t, err)
	assert.Equal(t, "invalid signature", response.Kind)

	response, err = client.AddSignatures(ctx, hash, signed(t, tx, second))
	require.NoError(t, err)
	assert.Empty(t, response.Kind)
	assert.Equal(t, multisig.StatusSubmitted, response.View.SignatureRequest.Status)
	assert.Equal(t, 1, env.gateway.Submits())
}

func TestPeerNotifier(t *testing.T) {
	signer := keypair.MustRandom()
	identity, err := p2p.IdentityFromSecret(signer.Seed())
	require.NoError(t, err)

	cosigner := newLocalHost(t, libp2p.Identity(identity))
	updates := make(chan SignatureRequestUpdate, 1)
	require.NoError(t, NewNotificationServer(cosigner, func(update SignatureRequestUpdate) {
		updates <- update
	}))

	coordinatorHost := newLocalHost(t)
	notifier := NewPeerNotifier(coordinatorHost, directConnector(coordinatorHost, cosigner))

	view := RequestView{
		SignatureRequest: SerializedRequest{ID: "id", Hash: "hash", Status: multisig.StatusSubmitted},
		Signers:          []SignerView{{AccountID: signer.Address(), HasSigned: true}},
	}
	// an offline signer does not hold up the others
	offline := keypair.MustRandom().Address()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	notifier.Notify(ctx, view, []string{signer.Address(), offline})

	select {
	case update := <-updates:
		assert.Equal(t, "hash", update.View.SignatureRequest.Hash)
		assert.Equal(t, multisig.StatusSubmitted, update.View.SignatureRequest.Status)
		assert.ElementsMatch(t, []string{signer.Address(), offline}, update.Signers)
	default:
		t.Fatal("the signer was not notified")
	}
}
