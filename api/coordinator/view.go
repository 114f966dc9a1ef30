package coordinator

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SunceWallet/signature-coordinator/multisig"
	"github.com/SunceWallet/signature-coordinator/stellar"
)

// SerializedRequest is the public form of a signature request
type SerializedRequest struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
	// Request is the transaction request co-signers should open. If the
	// coordinator signs requests it is issued by the coordinator and its
	// callback collects the signatures, otherwise it is SourceRequest.
	Request       string          `json:"req"`
	SourceRequest string          `json:"source_req"`
	Message       string          `json:"msg,omitempty"`
	OriginDomain  string          `json:"origin_domain,omitempty"`
	Status        multisig.Status `json:"status"`
	Error         string          `json:"error,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SignerView is a co-signer of a request and whether it signed already
type SignerView struct {
	AccountID string `json:"account_id"`
	HasSigned bool   `json:"has_signed"`
}

// RequestView is a request with its co-signers, as returned to clients and notified to signers
type RequestView struct {
	SignatureRequest SerializedRequest `json:"signature_request"`
	Signers          []SignerView      `json:"signers"`
}

func (c *Coordinator) serialize(req multisig.SignatureRequest) SerializedRequest {
	serialized := SerializedRequest{
		ID:            req.ID,
		Hash:          req.Hash,
		Request:       req.URI,
		SourceRequest: req.URI,
		Status:        req.Status,
		Error:         req.Error,
		ExpiresAt:     req.ExpiresAt,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
	}
	source, err := stellar.ParseRequestURI(req.URI)
	if err != nil {
		log.Error().Err(err).Str("hash", req.Hash).Msg("stored request uri does not parse")
		return serialized
	}
	serialized.Message = source.Message
	serialized.OriginDomain = source.OriginDomain
	if c.requestSigner != nil {
		issued, err := c.issueRequest(req, source.Message)
		if err != nil {
			log.Error().Err(err).Str("hash", req.Hash).Msg("failed to issue signed request uri")
			return serialized
		}
		serialized.Request = issued
	}
	return serialized
}

// issueRequest builds the signed request whose callback posts to the signatures endpoint of req
func (c *Coordinator) issueRequest(req multisig.SignatureRequest, msg string) (string, error) {
	callback := c.baseURL + "/transactions/" + req.Hash + "/signatures"
	uri := stellar.BuildRequestURI(req.TxXDR, callback, req.NetworkPassphrase, stellar.WithMessage(msg))
	return c.requestSigner.Sign(uri)
}

// signerIDs returns the distinct signer keys of a request in snapshot order
func signerIDs(signers []multisig.Signer) []string {
	seen := make(map[string]bool, len(signers))
	ids := make([]string, 0, len(signers))
	for _, signer := range signers {
		if seen[signer.AccountID] {
			continue
		}
		seen[signer.AccountID] = true
		ids = append(ids, signer.AccountID)
	}
	return ids
}

func (c *Coordinator) buildView(req multisig.SignatureRequest, signers []multisig.Signer, signatures []multisig.Signature) RequestView {
	signed := make(map[string]bool, len(signatures))
	for _, sig := range signatures {
		signed[sig.Signer] = true
	}
	ids := signerIDs(signers)
	views := make([]SignerView, 0, len(ids))
	for _, id := range ids {
		views = append(views, SignerView{AccountID: id, HasSigned: signed[id]})
	}
	return RequestView{SignatureRequest: c.serialize(req), Signers: views}
}
