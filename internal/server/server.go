package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"bloodlink/internal/coordinator"
	"bloodlink/pkg/types"

	"github.com/alexedwards/flow"
	"github.com/go-playground/form/v4"
	"github.com/gorilla/securecookie"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var decoder = form.NewDecoder()

// KeySets resolves a JWKS URL to its current key set. *jwk.Cache satisfies it.
type KeySets interface {
	Lookup(ctx context.Context, u string) (jwk.Set, error)
}

type Service struct {
	logger      logrus.FieldLogger
	config      *types.Config
	coordinator *coordinator.Coordinator
	gatherer    prometheus.Gatherer

	cookie *securecookie.SecureCookie

	jwksCache KeySets
	jwksURL   string

	server *http.Server
}

func New(
	config *types.Config,
	logger logrus.FieldLogger,
	coord *coordinator.Coordinator,
	gatherer prometheus.Gatherer,
	jwksCache KeySets,
	jwksURL string,
) (*Service, error) {
	mux := flow.New()

	hashKey, err := base64.StdEncoding.DecodeString(config.CookieHashKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cookie hash key: %w", err)
	}
	blockKey, err := base64.StdEncoding.DecodeString(config.CookieBlockKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cookie block key: %w", err)
	}
	if len(blockKey) == 0 {
		blockKey = nil
	}

	s := &Service{
		logger:      logger,
		config:      config,
		coordinator: coord,
		gatherer:    gatherer,
		cookie:      securecookie.New(hashKey, blockKey),

		jwksCache: jwksCache,
		jwksURL:   jwksURL,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.ServerPort),
			ReadTimeout:       time.Duration(config.ReadTimeoutSec) * time.Second,
			ReadHeaderTimeout: time.Duration(config.ReadTimeoutSec) * time.Second,
			WriteTimeout:      time.Duration(config.WriteTimeoutSec) * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}

	s.buildRouter(mux)
	// Runs ahead of routing so /path/ never reaches the mux.
	s.server.Handler = s.StripTrailingSlash(mux)

	return s, nil
}

func (s *Service) Start() error {
	return s.server.ListenAndServe()
}

func (s *Service) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Service) Handler() http.Handler {
	return s.server.Handler
}

func (s *Service) buildRouter(r *flow.Mux) {
	r.Use(s.LoggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth, http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}), http.MethodGet)
	}

	r.Group(func(r *flow.Mux) {
		r.Use(s.RequireAuth)

		r.HandleFunc("/donations", s.handlePledgeDonation, http.MethodPost)
		r.HandleFunc("/donations/:id/advance", s.handleAdvanceDonation, http.MethodPost)
		r.HandleFunc("/donations/:id/lab", s.handleRecordLab, http.MethodPost)
		r.HandleFunc("/donations/:id/finalize", s.handleFinalizeDonation, http.MethodPost)

		r.HandleFunc("/requests", s.handlePostRequest, http.MethodPost)
		r.HandleFunc("/requests/match", s.handleMatchOpen, http.MethodPost)
		r.HandleFunc("/requests/:id/cancel", s.handleCancelRequest, http.MethodPost)
		r.HandleFunc("/requests/:id/reset", s.handleResetRequest, http.MethodPost)
		r.HandleFunc("/requests/:id/match", s.handleMatchRequest, http.MethodPost)

		r.HandleFunc("/inventory", s.handleGetInventory, http.MethodGet)
		r.HandleFunc("/inventory/units", s.handleAddUnits, http.MethodPost)

		r.HandleFunc("/admin/reconcile", s.handleReconcile, http.MethodPost)
	})
}

func (s *Service) principalFromContext(ctx context.Context) (types.Principal, error) {
	p, ok := ctx.Value(contextKeyPrincipal).(types.Principal)
	if !ok {
		return types.Principal{}, fmt.Errorf("principal not found in context")
	}
	return p, nil
}
