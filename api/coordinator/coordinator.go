// Package coordinator drives signature requests from creation to submission.
//
// A request is pending while co-signers add signatures. The signature that
// makes it sufficiently signed moves it to ready and its caller forwards the
// transaction, to the callback of the request or to the ledger. The outcome
// is persisted as submitted or failed. Pending requests that pass their
// expiry become expired.
package coordinator

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/stellar/go/txnbuild"
	"golang.org/x/sync/errgroup"

	"github.com/SunceWallet/signature-coordinator/faults"
	"github.com/SunceWallet/signature-coordinator/multisig"
	"github.com/SunceWallet/signature-coordinator/state"
	"github.com/SunceWallet/signature-coordinator/stellar"
)

// DefaultMaxTTL is how long a request stays open if its transaction has no upper time bound
const DefaultMaxTTL = 30 * 24 * time.Hour

// Store is the durable state of the coordinator, implemented by state.Store
type Store interface {
	CreateRequest(ctx context.Context, req multisig.SignatureRequest, accounts []multisig.SourceAccount, signers []multisig.Signer) (multisig.SignatureRequest, bool, error)
	GetByHash(ctx context.Context, hash string) (multisig.SignatureRequest, error)
	GetSourceAccounts(ctx context.Context, requestID string) ([]multisig.SourceAccount, error)
	GetSigners(ctx context.Context, requestID string) ([]multisig.Signer, error)
	GetSignatures(ctx context.Context, requestID string) ([]multisig.Signature, error)
	SaveSignature(ctx context.Context, sig multisig.Signature) (bool, error)
	UpdateStatus(ctx context.Context, id string, from, to multisig.Status) (bool, error)
	MarkFailed(ctx context.Context, id string, from multisig.Status, cause string) (bool, error)
	ExpirePending(ctx context.Context, at time.Time) ([]multisig.SignatureRequest, error)
}

// Gateways selects the ledger gateway of a network, implemented by stellar.Registry
type Gateways interface {
	Gateway(passphrase string) (stellar.Gateway, error)
}

type Coordinator struct {
	store      Store
	gateways   Gateways
	notifier   Notifier
	httpClient *http.Client
	maxTTL     time.Duration
	now        func() time.Time

	requestSigner *stellar.RequestSigner
	baseURL       string
}

type Option func(*Coordinator)

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithMaxTTL sets the longest time a request accepts signatures
func WithMaxTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.maxTTL = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithHTTPClient sets the client used to post to callbacks
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) { c.httpClient = client }
}

// WithRequestSigner makes the coordinator issue signed requests whose callback
// is the signatures endpoint of the service reachable at baseURL
func WithRequestSigner(signer *stellar.RequestSigner, baseURL string) Option {
	return func(c *Coordinator) {
		c.requestSigner = signer
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// RequestSigningKey returns the address issued requests are signed with, empty if they are not signed
func (c *Coordinator) RequestSigningKey() string {
	if c.requestSigner == nil {
		return ""
	}
	return c.requestSigner.Address()
}

func New(store Store, gateways Gateways, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		gateways:   gateways,
		notifier:   LogNotifier{},
		httpClient: &http.Client{Timeout: stellar.SubmitTimeout},
		maxTTL:     DefaultMaxTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRequest registers a SEP-7 transaction request.
// The thresholds and signers of every source account are loaded once and
// never refreshed. Signatures already present on the transaction are collected.
// Creating a request that exists returns the existing one.
func (c *Coordinator) CreateRequest(ctx context.Context, uri string) (RequestView, error) {
	txReq, err := stellar.ParseRequestURI(uri)
	if err != nil {
		return RequestView{}, err
	}
	if existing, err := c.store.GetByHash(ctx, txReq.Hash); err == nil {
		return c.view(ctx, existing)
	} else if !faults.Is(err, faults.KindNotFound) {
		return RequestView{}, err
	}

	gateway, err := c.gateways.Gateway(txReq.NetworkPassphrase)
	if err != nil {
		return RequestView{}, err
	}
	tx, err := stellar.DecodeTransaction(txReq.XDR)
	if err != nil {
		return RequestView{}, faults.InvalidRequest("invalid transaction: %s", err)
	}
	ops, err := stellar.Operations(tx)
	if err != nil {
		return RequestView{}, err
	}
	txSource := stellar.SourceAccount(tx)

	accounts, err := loadAccounts(ctx, gateway, multisig.SourceAccounts(txSource, ops))
	if err != nil {
		return RequestView{}, err
	}

	var (
		sourceAccounts []multisig.SourceAccount
		signers        []multisig.Signer
	)
	for _, account := range accounts {
		sourceAccounts = append(sourceAccounts, multisig.SourceAccount{
			AccountID: account.ID,
			Threshold: multisig.RequiredThreshold(txSource, ops, account.ID, account.Thresholds),
		})
		for _, signer := range account.Ed25519Signers() {
			signers = append(signers, multisig.Signer{
				SourceAccountID: account.ID,
				AccountID:       signer.Key,
				Weight:          signer.Weight,
			})
		}
	}

	req := multisig.SignatureRequest{
		ID:                uuid.NewString(),
		Hash:              txReq.Hash,
		URI:               txReq.URI,
		NetworkPassphrase: txReq.NetworkPassphrase,
		TxXDR:             txReq.XDR,
		Callback:          txReq.Callback,
		Status:            multisig.StatusPending,
		ExpiresAt:         c.expiry(tx),
	}
	stored, created, err := c.store.CreateRequest(ctx, req, sourceAccounts, signers)
	if err != nil {
		return RequestView{}, err
	}
	if created {
		requestsCreated.Inc()
		log.Info().Str("hash", stored.Hash).Str("id", stored.ID).Int("sourceAccounts", len(sourceAccounts)).Msg("signature request created")
		if err := c.collectInitialSignatures(ctx, stored, tx, signers); err != nil {
			return RequestView{}, err
		}
	}
	return c.view(ctx, stored)
}

func loadAccounts(ctx context.Context, gateway stellar.Gateway, ids []string) ([]stellar.Account, error) {
	accounts := make([]stellar.Account, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			account, err := gateway.LoadAccount(gctx, id)
			if err != nil {
				return errors.Wrapf(err, "failed to load source account %s", id)
			}
			accounts[i] = account
			return nil
		})
	}
	return accounts, g.Wait()
}

func (c *Coordinator) expiry(tx *txnbuild.Transaction) time.Time {
	expiresAt := c.now().Add(c.maxTTL)
	if maxTime := tx.Timebounds().MaxTime; maxTime > 0 {
		if bound := time.Unix(maxTime, 0); bound.Before(expiresAt) {
			expiresAt = bound
		}
	}
	return expiresAt
}

func (c *Coordinator) collectInitialSignatures(ctx context.Context, req multisig.SignatureRequest, tx *txnbuild.Transaction, signers []multisig.Signer) error {
	sigs := tx.Signatures()
	if len(sigs) == 0 {
		return nil
	}
	hash, err := stellar.TransactionHash(tx, req.NetworkPassphrase)
	if err != nil {
		return err
	}
	candidates := signerIDs(signers)
	for _, sig := range sigs {
		key, err := multisig.MatchSigner(hash, sig, candidates)
		if err != nil {
			log.Warn().Str("hash", req.Hash).Msg("ignoring signature of the request transaction that belongs to no signer")
			continue
		}
		encoded, err := multisig.EncodeSignature(sig)
		if err != nil {
			return err
		}
		if _, err := c.store.SaveSignature(ctx, multisig.Signature{RequestID: req.ID, Signer: key, Decorated: encoded}); err != nil {
			return err
		}
	}
	return nil
}

// GetRequest returns the request with the given hash and its co-signers
func (c *Coordinator) GetRequest(ctx context.Context, hash string) (RequestView, error) {
	req, err := c.store.GetByHash(ctx, hash)
	if err != nil {
		return RequestView{}, err
	}
	return c.view(ctx, req)
}

func (c *Coordinator) view(ctx context.Context, req multisig.SignatureRequest) (RequestView, error) {
	signers, err := c.store.GetSigners(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}
	signatures, err := c.store.GetSignatures(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}
	return c.buildView(req, signers, signatures), nil
}

// reload returns the view of the current state of req
func (c *Coordinator) reload(ctx context.Context, req multisig.SignatureRequest) (RequestView, error) {
	current, err := c.store.GetByHash(ctx, req.Hash)
	if err != nil {
		return RequestView{}, err
	}
	return c.view(ctx, current)
}

// AddSignatures collects the signatures of envelopeXDR for the request with
// the given hash. The envelope has to carry the transaction of the request.
//
// If the request is sufficiently signed afterwards, the caller that moved it
// to ready forwards the transaction and gets the final state. A request that
// still lacks weight is reported as insufficient authorization, with the
// current view attached.
func (c *Coordinator) AddSignatures(ctx context.Context, hash, envelopeXDR string) (RequestView, error) {
	req, err := c.store.GetByHash(ctx, hash)
	if err != nil {
		return RequestView{}, err
	}
	if req.Status != multisig.StatusPending {
		signaturesTotal.WithLabelValues(resultLate).Inc()
		return c.rejectNotPending(ctx, req)
	}
	if !c.now().Before(req.ExpiresAt) {
		signaturesTotal.WithLabelValues(resultLate).Inc()
		c.expire(ctx, req)
		return c.rejectNotPending(ctx, req)
	}

	tx, txHash, err := c.requestTransaction(req)
	if err != nil {
		return RequestView{}, err
	}
	incoming, err := stellar.DecodeTransaction(envelopeXDR)
	if err != nil {
		signaturesTotal.WithLabelValues(resultInvalid).Inc()
		return RequestView{}, faults.InvalidSignature("invalid transaction envelope: %s", err)
	}
	incomingHash, err := stellar.TransactionHash(incoming, req.NetworkPassphrase)
	if err != nil || incomingHash != txHash {
		signaturesTotal.WithLabelValues(resultInvalid).Inc()
		return RequestView{}, faults.InvalidSignature("the envelope does not carry the transaction of request %s", hash)
	}
	if len(incoming.Signatures()) == 0 {
		signaturesTotal.WithLabelValues(resultInvalid).Inc()
		return RequestView{}, faults.InvalidSignature("the envelope carries no signatures")
	}

	signers, err := c.store.GetSigners(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}
	accounts, err := c.store.GetSourceAccounts(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}
	known, err := c.store.GetSignatures(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}

	// every signature is verified before any weight is counted
	candidates := signerIDs(signers)
	collected := make([]multisig.Signature, 0, len(incoming.Signatures()))
	for _, sig := range incoming.Signatures() {
		key, err := multisig.MatchSigner(txHash, sig, candidates)
		if err != nil {
			signaturesTotal.WithLabelValues(resultInvalid).Inc()
			return RequestView{}, err
		}
		encoded, err := multisig.EncodeSignature(sig)
		if err != nil {
			return RequestView{}, err
		}
		collected = append(collected, multisig.Signature{RequestID: req.ID, Signer: key, Decorated: encoded})
	}

	added := multisig.Merge(known, collected)
	signaturesTotal.WithLabelValues(resultDuplicate).Add(float64(len(collected) - len(added)))
	for _, sig := range added {
		inserted, err := c.store.SaveSignature(ctx, sig)
		if errors.Is(err, state.ErrNotPending) {
			signaturesTotal.WithLabelValues(resultLate).Inc()
			return c.rejectNotPending(ctx, req)
		}
		if err != nil {
			return RequestView{}, err
		}
		if inserted {
			signaturesTotal.WithLabelValues(resultAccepted).Inc()
			log.Info().Str("hash", req.Hash).Str("signer", sig.Signer).Msg("signature collected")
		}
	}
	// concurrent callers may have saved signatures since known was read
	all, err := c.store.GetSignatures(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}

	sufficient, err := c.isSufficient(accounts, signers, added, all)
	if err != nil {
		log.Error().Err(err).Str("hash", req.Hash).Msg("cannot evaluate signature request")
		return RequestView{}, err
	}
	if !sufficient {
		view := c.buildView(req, signers, all)
		return view, faults.InsufficientAuthorization("transaction is not yet sufficiently signed").WithData(view)
	}

	won, err := c.store.UpdateStatus(ctx, req.ID, multisig.StatusPending, multisig.StatusReady)
	if err != nil {
		return RequestView{}, err
	}
	if !won {
		// another caller moved it to ready and forwards it
		return c.reload(ctx, req)
	}
	req.Status = multisig.StatusReady
	log.Info().Str("hash", req.Hash).Msg("signature request is sufficiently signed")

	return c.submit(ctx, req, tx, signers, all)
}

// isSufficient tries the single signer form for the new signatures first
func (c *Coordinator) isSufficient(accounts []multisig.SourceAccount, signers []multisig.Signer, added, all []multisig.Signature) (bool, error) {
	for _, sig := range added {
		ok, err := multisig.SignerIsSufficient(accounts, signers, sig.Signer)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return multisig.IsSufficient(accounts, signers, all)
}

func (c *Coordinator) requestTransaction(req multisig.SignatureRequest) (*txnbuild.Transaction, [32]byte, error) {
	tx, err := stellar.DecodeTransaction(req.TxXDR)
	if err != nil {
		return nil, [32]byte{}, faults.InvariantViolation("invariant violation: stored transaction of %s: %s", req.ID, err)
	}
	hash, err := stellar.TransactionHash(tx, req.NetworkPassphrase)
	if err != nil {
		return nil, [32]byte{}, err
	}
	return tx, hash, nil
}

func (c *Coordinator) rejectNotPending(ctx context.Context, req multisig.SignatureRequest) (RequestView, error) {
	view, err := c.reload(ctx, req)
	if err != nil {
		return RequestView{}, err
	}
	switch view.SignatureRequest.Status {
	case multisig.StatusReady, multisig.StatusSubmitted:
		return view, faults.InsufficientAuthorization("transaction is already sufficiently signed").WithData(view)
	case multisig.StatusExpired:
		return view, faults.InsufficientAuthorization("signature request has expired").WithData(view)
	default:
		return view, faults.InsufficientAuthorization("signature request is %s and no longer accepts signatures", view.SignatureRequest.Status).WithData(view)
	}
}

// expire moves a pending request past its expiry to expired and notifies its signers
func (c *Coordinator) expire(ctx context.Context, req multisig.SignatureRequest) {
	updated, err := c.store.UpdateStatus(ctx, req.ID, multisig.StatusPending, multisig.StatusExpired)
	if err != nil {
		log.Error().Err(err).Str("hash", req.Hash).Msg("failed to expire signature request")
		return
	}
	if !updated {
		return
	}
	requestsExpired.Inc()
	log.Info().Str("hash", req.Hash).Msg("signature request expired")
	c.notify(ctx, req)
}

// ExpireStale expires every pending request past its expiry and returns how many there were
func (c *Coordinator) ExpireStale(ctx context.Context) (int, error) {
	expired, err := c.store.ExpirePending(ctx, c.now())
	if err != nil {
		return 0, err
	}
	for _, req := range expired {
		requestsExpired.Inc()
		log.Info().Str("hash", req.Hash).Msg("signature request expired")
		c.notify(ctx, req)
	}
	return len(expired), nil
}

// RunExpiry calls ExpireStale every interval until ctx is done
func (c *Coordinator) RunExpiry(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.ExpireStale(ctx); err != nil {
				log.Error().Err(err).Msg("expiry sweep failed")
			}
		}
	}
}

// notify sends the current state of req to its signers. Failures are logged only.
func (c *Coordinator) notify(ctx context.Context, req multisig.SignatureRequest) {
	view, err := c.reload(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("hash", req.Hash).Msg("failed to serialize signature request for notification")
		return
	}
	ids := make([]string, 0, len(view.Signers))
	for _, signer := range view.Signers {
		ids = append(ids, signer.AccountID)
	}
	c.notifier.Notify(ctx, view, ids)
}
