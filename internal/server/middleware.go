package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bloodlink/pkg/types"

	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/sirupsen/logrus"
)

// Context key types to avoid collisions
type contextKey string

const (
	contextKeyPrincipal contextKey = "principal"
)

// Private claims carried next to the standard subject.
const (
	claimOrganizationID   = "org_id"
	claimOrganizationType = "org_type"
	claimRole             = "role"
)

var errNoToken = errors.New("no access token")

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Service) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("http request")
	})
}

// RequireAuth verifies the caller's access token and puts the resulting
// principal in the request context.
func (s *Service) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessToken, err := s.accessToken(r)
		if err != nil {
			s.logger.WithError(err).Debug("no usable access token")
			s.writeMessage(w, http.StatusUnauthorized, "authentication required")
			return
		}

		set, err := s.jwksCache.Lookup(r.Context(), s.jwksURL)
		if err != nil {
			s.logger.WithError(err).Error("failed to fetch JWKS")
			s.writeMessage(w, http.StatusServiceUnavailable, "identity provider unavailable")
			return
		}

		token, err := jwt.Parse(
			[]byte(accessToken),
			jwt.WithKeySet(set),
			jwt.WithValidate(true),
		)
		if err != nil {
			s.logger.WithError(err).Warn("failed to parse JWT")
			s.writeMessage(w, http.StatusUnauthorized, "invalid access token")
			return
		}

		principal, err := principalFromToken(token)
		if err != nil {
			s.logger.WithError(err).Warn("rejected JWT claims")
			s.writeMessage(w, http.StatusUnauthorized, "invalid access token")
			return
		}

		s.logger.WithFields(logrus.Fields{
			"principal_id":    principal.ID,
			"organization_id": principal.OrganizationID,
			"role":            principal.Role,
		}).Debug("authenticated principal")

		ctx := context.WithValue(r.Context(), contextKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessToken reads a bearer token, falling back to the encrypted session
// cookie.
func (s *Service) accessToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return "", fmt.Errorf("malformed authorization header")
		}
		return token, nil
	}

	cookie, err := r.Cookie(s.config.CookieName)
	if err != nil {
		return "", errNoToken
	}

	var accessToken string
	if err := s.cookie.Decode(s.config.CookieName, cookie.Value, &accessToken); err != nil {
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return accessToken, nil
}

func principalFromToken(token jwt.Token) (types.Principal, error) {
	subject, ok := token.Subject()
	if !ok || subject == "" {
		return types.Principal{}, fmt.Errorf("no subject claim")
	}

	p := types.Principal{ID: subject, Role: types.RoleStaff}

	// Organization claims are optional; a donor token carries neither.
	var orgID, orgType, role string
	if token.Has(claimOrganizationID) {
		if err := token.Get(claimOrganizationID, &orgID); err != nil {
			return types.Principal{}, fmt.Errorf("read %s claim: %w", claimOrganizationID, err)
		}
	}
	if token.Has(claimOrganizationType) {
		if err := token.Get(claimOrganizationType, &orgType); err != nil {
			return types.Principal{}, fmt.Errorf("read %s claim: %w", claimOrganizationType, err)
		}
	}
	if token.Has(claimRole) {
		if err := token.Get(claimRole, &role); err != nil {
			return types.Principal{}, fmt.Errorf("read %s claim: %w", claimRole, err)
		}
	}

	p.OrganizationID = orgID
	p.OrganizationType = types.OrganizationType(strings.ToUpper(orgType))
	if p.OrganizationType != "" && !p.OrganizationType.Valid() {
		return types.Principal{}, fmt.Errorf("unknown organization type %q", orgType)
	}

	switch types.Role(role) {
	case "", types.RoleStaff:
	case types.RoleAdmin:
		p.Role = types.RoleAdmin
	default:
		return types.Principal{}, fmt.Errorf("unknown role %q", role)
	}

	return p, nil
}

func (s *Service) StripTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Only strip if path is not root and has trailing slash
		if path != "/" && strings.HasSuffix(path, "/") {
			newURL := *r.URL
			newURL.Path = strings.TrimSuffix(path, "/")

			// 308 keeps the method and body of a POST
			http.Redirect(w, r, newURL.String(), http.StatusPermanentRedirect)
			return
		}

		next.ServeHTTP(w, r)
	})
}
