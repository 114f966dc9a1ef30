// Package server exposes the coordinator over HTTP
package server

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/SunceWallet/signature-coordinator/api/coordinator"
	"github.com/SunceWallet/signature-coordinator/faults"
)

// maxBodySize bounds request bodies
const maxBodySize = 1 << 20

// Coordinator is the part of coordinator.Coordinator the HTTP surface uses
type Coordinator interface {
	CreateRequest(ctx context.Context, uri string) (coordinator.RequestView, error)
	GetRequest(ctx context.Context, hash string) (coordinator.RequestView, error)
	AddSignatures(ctx context.Context, hash, envelopeXDR string) (coordinator.RequestView, error)
}

type Config struct {
	// Listen is the address the server listens on, eg :3000
	Listen string
	// PathPrefix is prepended to every route, eg /api
	PathPrefix  string
	CorsOrigins []string
	// RequestSigningKey is published as URI_REQUEST_SIGNING_KEY if ServeStellarToml is set
	RequestSigningKey string
	ServeStellarToml  bool
}

type stellarToml struct {
	URIRequestSigningKey string `toml:"URI_REQUEST_SIGNING_KEY"`
}

type createRequestBody struct {
	Req string `json:"req"`
}

type signaturesBody struct {
	XDR string `json:"xdr"`
}

type errorBody struct {
	Error string      `json:"error"`
	Data  interface{} `json:"data,omitempty"`
}

// NewHandler returns the routes of the coordinator, wrapped in CORS handling
func NewHandler(c Coordinator, cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	if cfg.ServeStellarToml && cfg.RequestSigningKey != "" {
		r.Get("/.well-known/stellar.toml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Access-Control-Allow-Origin", "*")
			if err := toml.NewEncoder(w).Encode(stellarToml{URIRequestSigningKey: cfg.RequestSigningKey}); err != nil {
				log.Debug().Err(err).Msg("failed to write stellar.toml")
			}
		})
	}

	r.Route(strings.TrimSuffix(cfg.PathPrefix, "/")+"/transactions", func(api chi.Router) {
		api.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var body createRequestBody
			if err := readJSON(w, r, &body); err != nil {
				writeError(w, http.StatusBadRequest, err.Error(), nil)
				return
			}
			if body.Req == "" {
				writeError(w, http.StatusBadRequest, "req is required", nil)
				return
			}
			view, err := c.CreateRequest(r.Context(), body.Req)
			if err != nil {
				writeFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
		})

		api.Get("/{hash}", func(w http.ResponseWriter, r *http.Request) {
			view, err := c.GetRequest(r.Context(), chi.URLParam(r, "hash"))
			if err != nil {
				writeFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
		})

		// wallets following a request callback post the signed xdr as a form
		api.Post("/{hash}/signatures", func(w http.ResponseWriter, r *http.Request) {
			body, err := readSignatures(w, r)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error(), nil)
				return
			}
			if body.XDR == "" {
				writeError(w, http.StatusBadRequest, "xdr is required", nil)
				return
			}
			view, err := c.AddSignatures(r.Context(), chi.URLParam(r, "hash"), body.XDR)
			if err != nil {
				writeFault(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
		})
	})

	origins := cfg.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

// Run serves the handler until ctx is done
func Run(ctx context.Context, c Coordinator, cfg Config) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewHandler(c, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Str("prefix", cfg.PathPrefix).Msg("http server started")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}

func readSignatures(w http.ResponseWriter, r *http.Request) (signaturesBody, error) {
	var body signaturesBody
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		err := readJSON(w, r, &body)
		return body, err
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := r.ParseForm(); err != nil {
		return body, err
	}
	body.XDR = r.PostForm.Get("xdr")
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string, data interface{}) {
	writeJSON(w, status, errorBody{Error: msg, Data: data})
}

// writeFault maps the kind of err to a status code. Only client errors are passed through.
func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	switch faults.KindOf(err) {
	case faults.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case faults.KindInsufficientAuthorization, faults.KindInvalidSignature, faults.KindInvalidRequest:
		writeError(w, http.StatusBadRequest, err.Error(), faults.DataOf(err))
	case faults.KindInvariantViolation:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("invariant violation")
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
