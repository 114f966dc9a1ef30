package coordinator

import (
	"context"
	"sync"
	"time"

	gorpc "github.com/libp2p/go-libp2p-gorpc"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/host/autorelay"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/threefoldtech/libp2p-relay/client"

	"github.com/SunceWallet/signature-coordinator/p2p"
)

// NotificationProtocol is served by co-signers that want status updates
const NotificationProtocol = protocol.ID("/p2p/rpc/signature-request-updates")

const notifyTimeout = 30 * time.Second

// Notifier delivers the state of a request to its signers.
// Delivery is best effort, failures are logged and never returned.
type Notifier interface {
	Notify(ctx context.Context, view RequestView, signers []string)
}

// LogNotifier logs status changes
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, view RequestView, signers []string) {
	log.Info().
		Str("hash", view.SignatureRequest.Hash).
		Str("status", string(view.SignatureRequest.Status)).
		Str("error", view.SignatureRequest.Error).
		Strs("signers", signers).
		Msg("signature request updated")
}

// Notifiers fans a notification out to several notifiers
type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, view RequestView, signers []string) {
	for _, notifier := range n {
		notifier.Notify(ctx, view, signers)
	}
}

// SignatureRequestUpdate is sent to every signer of a request when its status changes
type SignatureRequestUpdate struct {
	View    RequestView
	Signers []string
}

// Ack is the empty answer to an update
type Ack struct{}

// PeerConnector makes sure the host can reach a peer
type PeerConnector func(ctx context.Context, id peer.ID) error

// RelayConnector connects to peers through the relay, the host has to be the relay host created by p2p.NewHost
func RelayConnector(h host.Host, router routing.PeerRouting, relay *peer.AddrInfo) PeerConnector {
	return func(ctx context.Context, id peer.ID) error {
		arHost, ok := h.(*autorelay.AutoRelayHost)
		if !ok {
			return errors.New("host is not a relay host")
		}
		return client.ConnectToPeer(ctx, arHost, router, relay, id)
	}
}

// PeerNotifier sends updates to the libp2p nodes of the signers.
// The peer id of a signer is derived from its Stellar address.
type PeerNotifier struct {
	client  *gorpc.Client
	connect PeerConnector
}

func NewPeerNotifier(h host.Host, connect PeerConnector) *PeerNotifier {
	return &PeerNotifier{
		client:  gorpc.NewClient(h, NotificationProtocol),
		connect: connect,
	}
}

func (n *PeerNotifier) Notify(ctx context.Context, view RequestView, signers []string) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	update := SignatureRequestUpdate{View: view, Signers: signers}
	var wg sync.WaitGroup
	for _, id := range p2p.PeerIDs(signers) {
		wg.Add(1)
		go func(id peer.ID) {
			defer wg.Done()
			if err := n.send(ctx, id, update); err != nil {
				log.Debug().Err(err).Str("peerID", id.String()).Str("hash", view.SignatureRequest.Hash).Msg("failed to notify signer")
				return
			}
			log.Debug().Str("peerID", id.String()).Str("hash", view.SignatureRequest.Hash).Msg("signer notified")
		}(id)
	}
	wg.Wait()
}

func (n *PeerNotifier) send(ctx context.Context, id peer.ID, update SignatureRequestUpdate) error {
	if err := n.connect(ctx, id); err != nil {
		return errors.Wrapf(err, "failed to connect to host id '%s'", id)
	}
	var ack Ack
	return n.client.CallContext(ctx, id, "NotificationService", "Update", &update, &ack)
}

// NotificationService receives updates on a co-signer node
type NotificationService struct {
	handle func(SignatureRequestUpdate)
}

// NewNotificationServer registers a NotificationService on h that passes updates to handle
func NewNotificationServer(h host.Host, handle func(SignatureRequestUpdate)) error {
	server := gorpc.NewServer(h, NotificationProtocol)
	return server.Register(&NotificationService{handle: handle})
}

func (s *NotificationService) Update(ctx context.Context, update SignatureRequestUpdate, ack *Ack) error {
	log.Info().Str("hash", update.View.SignatureRequest.Hash).Str("status", string(update.View.SignatureRequest.Status)).Msg("received signature request update")
	s.handle(update)
	return nil
}
