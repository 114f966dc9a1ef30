package coordinator

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/SunceWallet/signature-coordinator/faults"
	"github.com/SunceWallet/signature-coordinator/multisig"
	"github.com/SunceWallet/signature-coordinator/stellar"
)

// MaxCallbackResponseSize bounds the body read from a callback
const MaxCallbackResponseSize = 1 << 20

var errCallbackResponseTooLarge = errors.New("callback response exceeds 1 MiB")

// submit forwards the transaction of a ready request and persists the outcome.
// It runs at most once per request: only the caller that moved it to ready gets here.
func (c *Coordinator) submit(ctx context.Context, req multisig.SignatureRequest, tx *txnbuild.Transaction, signers []multisig.Signer, signatures []multisig.Signature) (RequestView, error) {
	// the outcome has to be persisted even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	var cause string
	envelope, err := buildEnvelope(tx, signers, signatures)
	if err != nil {
		cause = err.Error()
	} else {
		cause = c.forward(ctx, req, envelope)
	}

	if cause == "" {
		if _, err := c.store.UpdateStatus(ctx, req.ID, multisig.StatusReady, multisig.StatusSubmitted); err != nil {
			logLostOutcome(err, req, multisig.StatusSubmitted, cause)
			return RequestView{}, err
		}
		log.Info().Str("hash", req.Hash).Msg("transaction submitted")
	} else {
		if _, err := c.store.MarkFailed(ctx, req.ID, multisig.StatusReady, cause); err != nil {
			logLostOutcome(err, req, multisig.StatusFailed, cause)
			return RequestView{}, err
		}
		log.Warn().Str("hash", req.Hash).Str("cause", cause).Msg("transaction submission failed")
	}

	view, err := c.reload(ctx, req)
	if err != nil {
		return RequestView{}, err
	}
	c.notifier.Notify(ctx, view, signerIDs(signers))
	return view, nil
}

// logLostOutcome records a submission whose outcome could not be persisted.
// The request stays ready and signers are not notified.
func logLostOutcome(err error, req multisig.SignatureRequest, outcome multisig.Status, cause string) {
	log.Error().Err(err).
		Str("hash", req.Hash).
		Str("outcome", string(outcome)).
		Str("cause", cause).
		Msg("failed to persist submission outcome, request stays ready")
}

// buildEnvelope attaches the collected signatures of signers with a weight to tx
func buildEnvelope(tx *txnbuild.Transaction, signers []multisig.Signer, signatures []multisig.Signature) (string, error) {
	weighted := make(map[string]bool, len(signers))
	for _, signer := range signers {
		if signer.Weight > 0 {
			weighted[signer.AccountID] = true
		}
	}

	decorated := make([]xdr.DecoratedSignature, 0, len(signatures))
	for _, sig := range signatures {
		if !weighted[sig.Signer] {
			continue
		}
		d, err := multisig.DecodeSignature(sig.Decorated)
		if err != nil {
			return "", faults.InvariantViolation("invariant violation: stored signature of %s is corrupt", sig.Signer)
		}
		decorated = append(decorated, d)
	}
	return stellar.WithSignatures(tx, decorated)
}

// forward sends the envelope to the callback of req or to the ledger.
// It returns the failure cause, empty on success.
func (c *Coordinator) forward(ctx context.Context, req multisig.SignatureRequest, envelope string) string {
	target := targetLedger
	if req.Callback != "" {
		target = targetCallback
	}
	start := time.Now()
	defer func() {
		submissionDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())
	}()

	var (
		endpoint string
		status   int
		err      error
	)
	if req.Callback != "" {
		endpoint = req.Callback
		status, err = c.postCallback(ctx, req.Callback, envelope)
	} else {
		var gateway stellar.Gateway
		gateway, err = c.gateways.Gateway(req.NetworkPassphrase)
		if err == nil {
			endpoint = gateway.URL()
			subCtx, cancel := context.WithTimeout(ctx, stellar.SubmitTimeout)
			var result stellar.SubmitResult
			result, err = gateway.Submit(subCtx, envelope)
			cancel()
			status = result.StatusCode
		}
	}

	switch {
	case err != nil:
		submissionsTotal.WithLabelValues(target, "transport_failure").Inc()
		return err.Error()
	case status >= http.StatusBadRequest:
		submissionsTotal.WithLabelValues(target, "rejected").Inc()
		return faults.RemoteRejection("request to %s failed with status code %d", endpoint, status).Error()
	default:
		submissionsTotal.WithLabelValues(target, "submitted").Inc()
		return ""
	}
}

// postCallback posts the envelope as a form to callback and returns the response status
func (c *Coordinator) postCallback(ctx context.Context, callback, envelope string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, stellar.SubmitTimeout)
	defer cancel()

	body := url.Values{"xdr": {envelope}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, callback, strings.NewReader(body))
	if err != nil {
		return 0, faults.TransportFailure(callback, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, faults.TransportFailure(callback, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, MaxCallbackResponseSize+1))
	if err != nil {
		return 0, faults.TransportFailure(callback, err)
	}
	if n > MaxCallbackResponseSize {
		return 0, faults.TransportFailure(callback, errCallbackResponseTooLarge)
	}
	return resp.StatusCode, nil
}
