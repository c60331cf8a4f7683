package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dns-warden/pkg/storage"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// handleLogin verifies form-encoded credentials and issues a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed form data")
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		s.writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.store.FindUser(r.Context(), username)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("User lookup failed", "username", username, "error", err)
			s.writeError(w, http.StatusInternalServerError, "user lookup failed")
			return
		}
		// Same response for unknown user and bad password.
		s.writeError(w, http.StatusUnauthorized, "incorrect username or password")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)) != nil {
		s.writeError(w, http.StatusUnauthorized, "incorrect username or password")
		return
	}

	token, err := s.issueToken(username)
	if err != nil {
		s.logger.Error("Token signing failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	s.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

// issueToken signs a short-lived HS256 token for the user.
func (s *Server) issueToken(username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(s.tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// verifyToken parses and validates a bearer token, returning the subject.
func (s *Server) verifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return s.secretKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return subject, nil
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		username, err := s.verifyToken(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		s.logger.Debug("Authenticated request", "user", username, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
