package stellar

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"

	"github.com/SunceWallet/signature-coordinator/faults"
)

const (
	uriScheme      = "web+stellar"
	uriOperationTx = "tx"
	callbackPrefix = "url:"

	signatureParam = "&signature="
	// signed payloads are prefixed with 35 zero bytes, a 4 and this text
	signaturePayloadPrefix = "stellar.sep.7 - URI Scheme"
)

// TransactionRequest is a parsed SEP-7 transaction request
// (web+stellar:tx?xdr=...&callback=url:...&network_passphrase=...)
type TransactionRequest struct {
	URI string
	// Hash is the hex encoded sha256 of URI, it identifies the signature request
	Hash string
	XDR  string
	// Callback is the url without the url: prefix, empty when the transaction goes to horizon
	Callback          string
	NetworkPassphrase string
	Message           string
	// OriginDomain is the domain that claims to have issued the request, it is not verified
	OriginDomain string
	Signature    string
}

// HashURI returns the request hash of a transaction request URI
func HashURI(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:])
}

// ParseRequestURI parses a SEP-7 tx request.
// The network defaults to the public network like wallets do.
func ParseRequestURI(uri string) (TransactionRequest, error) {
	var req TransactionRequest

	u, err := url.Parse(uri)
	if err != nil {
		return req, faults.InvalidRequest("malformed request uri")
	}
	if u.Scheme != uriScheme || u.Opaque != uriOperationTx {
		return req, faults.InvalidRequest("not a %s:%s request uri", uriScheme, uriOperationTx)
	}

	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return req, faults.InvalidRequest("malformed request uri parameters")
	}

	// an unescaped '+' of the base64 xdr was decoded to a space
	req.XDR = strings.ReplaceAll(query.Get("xdr"), " ", "+")
	if req.XDR == "" {
		return req, faults.InvalidRequest("request uri has no xdr parameter")
	}

	if callback := query.Get("callback"); callback != "" {
		if !strings.HasPrefix(callback, callbackPrefix) {
			return req, faults.InvalidRequest("unsupported callback %q", callback)
		}
		target, err := url.Parse(strings.TrimPrefix(callback, callbackPrefix))
		if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
			return req, faults.InvalidRequest("invalid callback url %q", callback)
		}
		req.Callback = target.String()
	}

	req.NetworkPassphrase = query.Get("network_passphrase")
	if req.NetworkPassphrase == "" {
		req.NetworkPassphrase = network.PublicNetworkPassphrase
	}
	req.Message = query.Get("msg")
	req.OriginDomain = query.Get("origin_domain")
	req.Signature = query.Get("signature")
	req.URI = uri
	req.Hash = HashURI(uri)
	return req, nil
}

// URIOption sets an optional parameter of a transaction request
type URIOption func(url.Values)

// WithMessage sets the msg shown to the user by wallets
func WithMessage(msg string) URIOption {
	return func(query url.Values) {
		if msg != "" {
			query.Set("msg", msg)
		}
	}
}

// BuildRequestURI encodes a transaction request
func BuildRequestURI(envelopeXDR, callback, passphrase string, opts ...URIOption) string {
	query := url.Values{}
	query.Set("xdr", envelopeXDR)
	if callback != "" {
		query.Set("callback", callbackPrefix+callback)
	}
	if passphrase != "" {
		query.Set("network_passphrase", passphrase)
	}
	for _, opt := range opts {
		opt(query)
	}
	return uriScheme + ":" + uriOperationTx + "?" + query.Encode()
}

func signaturePayload(uri string) []byte {
	payload := make([]byte, 36, 36+len(signaturePayloadPrefix)+len(uri))
	payload[35] = 4
	payload = append(payload, signaturePayloadPrefix...)
	return append(payload, uri...)
}

// RequestSigner signs the transaction requests the coordinator issues.
// Wallets look up its address as URI_REQUEST_SIGNING_KEY in the stellar.toml of OriginDomain.
type RequestSigner struct {
	OriginDomain string
	keypair      *keypair.Full
}

func NewRequestSigner(secret, originDomain string) (*RequestSigner, error) {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return nil, errors.Wrap(err, "invalid request signing secret")
	}
	if originDomain == "" {
		return nil, errors.New("an origin domain is required to sign requests")
	}
	return &RequestSigner{OriginDomain: originDomain, keypair: kp}, nil
}

// Address is the public key wallets verify signatures with
func (s *RequestSigner) Address() string {
	return s.keypair.Address()
}

// Sign adds origin_domain to uri and appends the signature as the last parameter
func (s *RequestSigner) Sign(uri string) (string, error) {
	if !strings.Contains(uri, "?") {
		return "", faults.InvalidRequest("request uri has no parameters")
	}
	uri += "&origin_domain=" + url.QueryEscape(s.OriginDomain)
	sig, err := s.keypair.Sign(signaturePayload(uri))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign request uri")
	}
	return uri + signatureParam + url.QueryEscape(base64.StdEncoding.EncodeToString(sig)), nil
}

// VerifyRequestURI checks the signature of uri against the signing key address
func VerifyRequestURI(uri, signingKey string) error {
	idx := strings.LastIndex(uri, signatureParam)
	if idx < 0 {
		return faults.InvalidRequest("request uri is not signed")
	}
	encoded, err := url.QueryUnescape(uri[idx+len(signatureParam):])
	if err != nil {
		return faults.InvalidRequest("malformed request uri signature")
	}
	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return faults.InvalidRequest("malformed request uri signature")
	}
	kp, err := keypair.ParseAddress(signingKey)
	if err != nil {
		return errors.Wrap(ErrInvalidAddress, signingKey)
	}
	if err := kp.Verify(signaturePayload(uri[:idx]), sig); err != nil {
		return faults.InvalidRequest("invalid request uri signature")
	}
	return nil
}
