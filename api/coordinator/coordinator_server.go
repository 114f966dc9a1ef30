package coordinator

import (
	"context"

	gorpc "github.com/libp2p/go-libp2p-gorpc"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/SunceWallet/signature-coordinator/faults"
)

// Protocol is the protocol of the CoordinatorService
const Protocol = protocol.ID("/p2p/rpc/coordinator")

type GetRequest struct {
	Hash string
}

type SignaturesRequest struct {
	Hash string
	// XDR is the base64 transaction envelope carrying the signatures
	XDR string
}

// SignaturesResponse carries the outcome of a SignaturesRequest.
// Rejections of the request are reported in Error with their Kind, the call itself succeeds.
type SignaturesResponse struct {
	View  RequestView
	Kind  string
	Error string
}

// CoordinatorService lets co-signers add signatures over libp2p
type CoordinatorService struct {
	coordinator *Coordinator
}

// NewCoordinatorServer registers the CoordinatorService on h
func NewCoordinatorServer(h host.Host, c *Coordinator) error {
	log.Info().Str("identity", h.ID().String()).Msg("coordinator rpc server started")
	server := gorpc.NewServer(h, Protocol)
	return server.Register(&CoordinatorService{coordinator: c})
}

// Get returns a signature request by hash
func (s *CoordinatorService) Get(ctx context.Context, request GetRequest, response *RequestView) error {
	view, err := s.coordinator.GetRequest(ctx, request.Hash)
	if err != nil {
		return publicError(err)
	}
	*response = view
	return nil
}

// AddSignatures collects the signatures of request.XDR
func (s *CoordinatorService) AddSignatures(ctx context.Context, request SignaturesRequest, response *SignaturesResponse) error {
	view, err := s.coordinator.AddSignatures(ctx, request.Hash, request.XDR)
	if err != nil {
		switch faults.KindOf(err) {
		case faults.KindNotFound, faults.KindInsufficientAuthorization, faults.KindInvalidSignature:
			response.View = view
			response.Kind = faults.KindOf(err).String()
			response.Error = err.Error()
			return nil
		default:
			return publicError(err)
		}
	}
	response.View = view
	return nil
}

// publicError hides internal errors from remote callers
func publicError(err error) error {
	switch faults.KindOf(err) {
	case faults.KindNotFound, faults.KindInsufficientAuthorization, faults.KindInvalidSignature, faults.KindInvalidRequest:
		return err
	}
	log.Error().Err(err).Msg("coordinator rpc failed")
	return errors.New("internal error")
}

// CoordinatorClient calls the CoordinatorService of a coordinator node
type CoordinatorClient struct {
	client      *gorpc.Client
	connect     PeerConnector
	coordinator peer.ID
}

func NewCoordinatorClient(h host.Host, connect PeerConnector, coordinator peer.ID) *CoordinatorClient {
	return &CoordinatorClient{
		client:      gorpc.NewClient(h, Protocol),
		connect:     connect,
		coordinator: coordinator,
	}
}

func (c *CoordinatorClient) AddSignatures(ctx context.Context, hash, envelopeXDR string) (SignaturesResponse, error) {
	var response SignaturesResponse
	if err := c.connect(ctx, c.coordinator); err != nil {
		return response, errors.Wrapf(err, "failed to connect to host id '%s'", c.coordinator)
	}
	err := c.client.CallContext(ctx, c.coordinator, "CoordinatorService", "AddSignatures", &SignaturesRequest{Hash: hash, XDR: envelopeXDR}, &response)
	return response, err
}

func (c *CoordinatorClient) Get(ctx context.Context, hash string) (RequestView, error) {
	var response RequestView
	if err := c.connect(ctx, c.coordinator); err != nil {
		return response, errors.Wrapf(err, "failed to connect to host id '%s'", c.coordinator)
	}
	err := c.client.CallContext(ctx, c.coordinator, "CoordinatorService", "Get", &GetRequest{Hash: hash}, &response)
	return response, err
}
