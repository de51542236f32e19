package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bloodlink/internal/coordinator"
	"bloodlink/internal/matching"
	"bloodlink/internal/metrics"
	"bloodlink/internal/notify"
	"bloodlink/internal/store"
	"bloodlink/internal/store/memory"
	"bloodlink/pkg/types"

	"github.com/gorilla/securecookie"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testJWKSURL = "https://id.example.test/.well-known/jwks.json"

type staticKeys struct {
	set jwk.Set
}

func (k staticKeys) Lookup(context.Context, string) (jwk.Set, error) {
	return k.set, nil
}

type ServerSuite struct {
	suite.Suite
	signingKey jwk.Key
	config     *types.Config
	handler    http.Handler
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	s.Require().NoError(err)

	s.signingKey, err = jwk.Import(raw)
	s.Require().NoError(err)
	s.Require().NoError(s.signingKey.Set(jwk.KeyIDKey, "test-key"))
	s.Require().NoError(s.signingKey.Set(jwk.AlgorithmKey, jwa.RS256()))

	public, err := jwk.PublicKeyOf(s.signingKey)
	s.Require().NoError(err)
	s.Require().NoError(public.Set(jwk.KeyIDKey, "test-key"))
	s.Require().NoError(public.Set(jwk.AlgorithmKey, jwa.RS256()))

	set := jwk.NewSet()
	s.Require().NoError(set.AddKey(public))

	s.config = &types.Config{
		ServerPort:      8080,
		ReadTimeoutSec:  10,
		WriteTimeoutSec: 15,
		CookieName:      "session_id",
		CookieHashKey:   base64.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)),
		CookieBlockKey:  base64.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)),
	}

	st := memory.New()
	s.Require().NoError(st.WithTx(ctx, func(tx store.Tx) error {
		for _, org := range []*types.Organization{
			{ID: "bank_a", Name: "Bank A", Type: types.OrganizationTypeBank, Location: types.Location{Latitude: 6.45, Longitude: 3.39}},
			{ID: "hospital", Name: "St. Mary", Type: types.OrganizationTypeHospital, Location: types.Location{Latitude: 6.60, Longitude: 3.30}},
		} {
			if err := tx.CreateOrganization(ctx, org); err != nil {
				return err
			}
		}
		return tx.CreateDonor(ctx, &types.Donor{ID: "donor_1", Name: "Ada", BloodGroup: types.BloodGroupOPos})
	}))

	reg := prometheus.NewRegistry()
	coord := coordinator.New(st, logger, coordinator.Options{
		Notifier: notify.Nop{},
		Metrics:  metrics.New(reg),
	})

	srv, err := New(s.config, logger, coord, reg, staticKeys{set: set}, testJWKSURL)
	s.Require().NoError(err)
	s.handler = srv.Handler()
}

func (s *ServerSuite) token(sub string, claims map[string]string) string {
	b := jwt.NewBuilder().
		Subject(sub).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour))
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	s.Require().NoError(err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256(), s.signingKey))
	s.Require().NoError(err)
	return string(signed)
}

func (s *ServerSuite) staff(orgID string, orgType types.OrganizationType) string {
	return s.token("staff_"+orgID, map[string]string{
		claimOrganizationID:   orgID,
		claimOrganizationType: string(orgType),
	})
}

func (s *ServerSuite) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *ServerSuite) decode(rec *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func (s *ServerSuite) TestHealthNeedsNoToken() {
	rec := s.do(http.MethodGet, "/healthz", "", "")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"ok"}`, rec.Body.String())
}

func (s *ServerSuite) TestRejectsMissingAndForgedTokens() {
	s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/inventory", "", "").Code)
	s.Equal(http.StatusUnauthorized, s.do(http.MethodGet, "/inventory", "not-a-jwt", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/inventory", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *ServerSuite) TestStockRequestAndMatchOverHTTP() {
	bank := s.staff("bank_a", types.OrganizationTypeBank)
	hospital := s.staff("hospital", types.OrganizationTypeHospital)

	rec := s.do(http.MethodPost, "/inventory/units", bank, `{"bloodGroup":"O+","count":5}`)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var units []types.BloodUnit
	s.decode(rec, &units)
	s.Len(units, 5)

	rec = s.do(http.MethodPost, "/requests", hospital, `{"bloodGroup":"O+","unitsNeeded":3,"urgency":"HIGH"}`)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var request types.Request
	s.decode(rec, &request)
	s.Equal("hospital", request.OrganizationID)

	rec = s.do(http.MethodPost, "/requests/"+request.ID+"/match", hospital, "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var result matching.Result
	s.decode(rec, &result)
	s.Equal(matching.OutcomeFulfilled, result.Outcome)
	s.Equal("bank_a", result.AssignedTo)
	s.Equal(3, result.UnitsIssued)

	rec = s.do(http.MethodGet, "/inventory?organizationId=bank_a", bank, "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var snapshot types.InventorySnapshot
	s.decode(rec, &snapshot)
	s.Equal(2, snapshot.Counts[types.BloodGroupOPos])
}

func (s *ServerSuite) TestSessionCookie() {
	bank := s.staff("bank_a", types.OrganizationTypeBank)

	hashKey, _ := base64.StdEncoding.DecodeString(s.config.CookieHashKey)
	blockKey, _ := base64.StdEncoding.DecodeString(s.config.CookieBlockKey)
	value, err := securecookie.New(hashKey, blockKey).Encode(s.config.CookieName, bank)
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodGet, "/inventory", nil)
	req.AddCookie(&http.Cookie{Name: s.config.CookieName, Value: value})
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	s.Equal(http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/inventory", nil)
	req.AddCookie(&http.Cookie{Name: s.config.CookieName, Value: "tampered"})
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *ServerSuite) TestErrorStatuses() {
	bank := s.staff("bank_a", types.OrganizationTypeBank)
	hospital := s.staff("hospital", types.OrganizationTypeHospital)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		kind   types.ErrorKind
	}{
		{"malformed body", http.MethodPost, "/requests", hospital, `{"bloodGroup":`, http.StatusBadRequest, types.KindValidation},
		{"unknown field", http.MethodPost, "/requests", hospital, `{"bloodType":"O+"}`, http.StatusBadRequest, types.KindValidation},
		{"invalid request", http.MethodPost, "/requests", hospital, `{"bloodGroup":"Q+","unitsNeeded":1,"urgency":"HIGH"}`, http.StatusBadRequest, types.KindValidation},
		{"hospital stock", http.MethodPost, "/inventory/units", hospital, `{"bloodGroup":"O+"}`, http.StatusUnprocessableEntity, types.KindIneligibleOrganizationType},
		{"missing donation", http.MethodPost, "/donations/nope/finalize", bank, "", http.StatusNotFound, types.KindNotFound},
		{"missing org", http.MethodGet, "/inventory?organizationId=ghost", s.token("root", map[string]string{claimRole: "admin"}), "", http.StatusNotFound, types.KindNotFound},
		{"reconcile as staff", http.MethodPost, "/admin/reconcile", bank, "", http.StatusForbidden, types.KindForbidden},
		{"batch match as staff", http.MethodPost, "/requests/match", hospital, "", http.StatusForbidden, types.KindForbidden},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			rec := s.do(tt.method, tt.path, tt.token, tt.body)
			s.Equal(tt.status, rec.Code, rec.Body.String())

			var body errorBody
			s.decode(rec, &body)
			s.Equal(string(tt.kind), body.Kind)
		})
	}
}

func (s *ServerSuite) TestCancelThenMatchConflicts() {
	hospital := s.staff("hospital", types.OrganizationTypeHospital)

	rec := s.do(http.MethodPost, "/requests", hospital, `{"bloodGroup":"A-","unitsNeeded":1,"urgency":"LOW"}`)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var request types.Request
	s.decode(rec, &request)

	rec = s.do(http.MethodPost, "/requests/"+request.ID+"/cancel", hospital, "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/requests/"+request.ID+"/match", hospital, "")
	s.Equal(http.StatusConflict, rec.Code, rec.Body.String())
}

func (s *ServerSuite) TestAdminReconcile() {
	admin := s.token("root", map[string]string{claimRole: "admin"})

	rec := s.do(http.MethodPost, "/admin/reconcile", admin, `{"sweeps":["unit-owners"]}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var reports []map[string]any
	s.decode(rec, &reports)
	s.Require().Len(reports, 1)
	s.Equal("unit-owners", reports[0]["sweep"])

	rec = s.do(http.MethodPost, "/admin/reconcile", admin, `{"sweeps":["everything"]}`)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestTrailingSlashRedirect() {
	rec := s.do(http.MethodPost, "/requests/", "", "")
	s.Equal(http.StatusPermanentRedirect, rec.Code)
	s.Equal("/requests", rec.Header().Get("Location"))
}

func (s *ServerSuite) TestMetricsEndpoint() {
	s.do(http.MethodGet, "/inventory", s.staff("bank_a", types.OrganizationTypeBank), "")

	rec := s.do(http.MethodGet, "/metrics", "", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "bloodlink_operation_duration_seconds")
}

func TestPrincipalFromToken(t *testing.T) {
	build := func(sub string, claims map[string]any) jwt.Token {
		b := jwt.NewBuilder()
		if sub != "" {
			b = b.Subject(sub)
		}
		for k, v := range claims {
			b = b.Claim(k, v)
		}
		tok, err := b.Build()
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name    string
		token   jwt.Token
		want    types.Principal
		wantErr bool
	}{
		{
			name:  "donor",
			token: build("donor_1", nil),
			want:  types.Principal{ID: "donor_1", Role: types.RoleStaff},
		},
		{
			name:  "staff with lower-case type",
			token: build("u1", map[string]any{claimOrganizationID: "bank_a", claimOrganizationType: "bank"}),
			want:  types.Principal{ID: "u1", OrganizationID: "bank_a", OrganizationType: types.OrganizationTypeBank, Role: types.RoleStaff},
		},
		{
			name:  "admin",
			token: build("root", map[string]any{claimRole: "admin"}),
			want:  types.Principal{ID: "root", Role: types.RoleAdmin},
		},
		{name: "no subject", token: build("", nil), wantErr: true},
		{name: "unknown role", token: build("u1", map[string]any{claimRole: "owner"}), wantErr: true},
		{name: "unknown org type", token: build("u1", map[string]any{claimOrganizationType: "CLINIC"}), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := principalFromToken(tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
