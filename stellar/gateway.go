package stellar

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"

	"github.com/SunceWallet/signature-coordinator/faults"
	"github.com/SunceWallet/signature-coordinator/multisig"
)

// SubmitTimeout bounds every call to horizon
const SubmitTimeout = 15 * time.Second

const signerTypeEd25519 = "ed25519_public_key"

// AccountSigner is a signer as the ledger reports it
type AccountSigner struct {
	Key    string
	Weight int32
	Type   string
}

// Account is the authorization state of a ledger account
type Account struct {
	ID         string
	Thresholds multisig.Thresholds
	Signers    []AccountSigner
}

// Ed25519Signers returns the signers that sign with a public key.
// Pre-auth and hash-x signers never produce decorated signatures for a request.
func (a Account) Ed25519Signers() []AccountSigner {
	signers := make([]AccountSigner, 0, len(a.Signers))
	for _, signer := range a.Signers {
		if signer.Type == signerTypeEd25519 {
			signers = append(signers, signer)
		}
	}
	return signers
}

// SubmitResult is the answer of the ledger to a submitted transaction
type SubmitResult struct {
	StatusCode int
	Detail     string
}

// Gateway loads accounts from and submits transactions to one Stellar network
type Gateway interface {
	Passphrase() string
	URL() string
	LoadAccount(ctx context.Context, accountID string) (Account, error)
	// Submit returns an error only if no answer was received,
	// a rejection is a result with a status code >= 400.
	Submit(ctx context.Context, envelopeXDR string) (SubmitResult, error)
}

// HorizonGateway is a Gateway backed by a horizon server
type HorizonGateway struct {
	passphrase string
	client     *horizonclient.Client
}

func NewHorizonGateway(passphrase, horizonURL string) *HorizonGateway {
	return &HorizonGateway{
		passphrase: passphrase,
		client: &horizonclient.Client{
			HorizonURL: horizonURL,
			HTTP:       &http.Client{Timeout: SubmitTimeout},
		},
	}
}

func (g *HorizonGateway) Passphrase() string {
	return g.passphrase
}

func (g *HorizonGateway) URL() string {
	return g.client.HorizonURL
}

func (g *HorizonGateway) LoadAccount(ctx context.Context, accountID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if !IsValidStellarAddress(accountID) {
		return Account{}, errors.Wrap(ErrInvalidAddress, accountID)
	}

	account, err := g.client.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	if err != nil {
		var hError *horizonclient.Error
		if errors.As(err, &hError) && hError.Response != nil && hError.Response.StatusCode == http.StatusNotFound {
			return Account{}, faults.InvalidRequest("account %s does not exist", accountID)
		}
		return Account{}, faults.TransportFailure(g.URL(), err)
	}
	return accountFromHorizon(account), nil
}

func accountFromHorizon(account hProtocol.Account) Account {
	signers := make([]AccountSigner, 0, len(account.Signers))
	for _, signer := range account.Signers {
		signers = append(signers, AccountSigner{Key: signer.Key, Weight: signer.Weight, Type: signer.Type})
	}
	return Account{
		ID: account.AccountID,
		Thresholds: multisig.Thresholds{
			Low:  account.Thresholds.LowThreshold,
			Med:  account.Thresholds.MedThreshold,
			High: account.Thresholds.HighThreshold,
		},
		Signers: signers,
	}
}

func (g *HorizonGateway) Submit(ctx context.Context, envelopeXDR string) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}

	txResult, err := g.client.SubmitTransactionXDR(envelopeXDR)
	if err == nil {
		log.Info().Str("txHash", txResult.Hash).Msg("transaction submitted to the stellar network")
		return SubmitResult{StatusCode: http.StatusOK}, nil
	}

	var hError *horizonclient.Error
	if errors.As(err, &hError) && hError.Response != nil {
		result := SubmitResult{StatusCode: hError.Response.StatusCode, Detail: hError.Problem.Title}
		if resultCodes, rcErr := hError.ResultCodes(); rcErr == nil {
			log.Warn().Str("transaction", resultCodes.TransactionCode).Strs("operations", resultCodes.OperationCodes).Msg("horizon rejected transaction")
		}
		return result, nil
	}
	return SubmitResult{}, faults.TransportFailure(g.URL(), err)
}

// Registry holds one Gateway per network passphrase
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, gw := range gateways {
		r.gateways[gw.Passphrase()] = gw
	}
	return r
}

// Gateway returns the gateway of the network with the given passphrase
func (r *Registry) Gateway(passphrase string) (Gateway, error) {
	gw, ok := r.gateways[passphrase]
	if !ok {
		return nil, faults.InvalidRequest("unknown network passphrase: %s", passphrase)
	}
	return gw, nil
}

func (r *Registry) Passphrases() []string {
	passphrases := make([]string, 0, len(r.gateways))
	for passphrase := range r.gateways {
		passphrases = append(passphrases, passphrase)
	}
	sort.Strings(passphrases)
	return passphrases
}
