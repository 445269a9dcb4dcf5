// Package auth maps transport connections to session users: JWT
// issuing and verification plus the login/register HTTP handlers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/cowrite/cowrite/internal/store"
)

const tokenTTL = 30 * 24 * time.Hour

var ErrInvalidToken = errors.New("auth: invalid token")

type claims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Service signs and verifies session tokens against a shared secret
// and checks credentials against the user store.
type Service struct {
	secret []byte
	users  store.UserStore
}

func NewService(secret []byte, users store.UserStore) *Service {
	return &Service{secret: secret, users: users}
}

// Sign issues a token for uid.
func (s *Service) Sign(uid string) (string, error) {
	c := claims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// Verify returns the uid a token was issued for.
func (s *Service) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	return c.UID, nil
}

// Login checks credentials and returns a fresh token.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Bad format", http.StatusBadRequest)
		return
	}

	hash, err := s.users.PasswordHash(r.Context(), creds.Username)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)) != nil {
		http.Error(w, "Invalid credentials", http.StatusForbidden)
		return
	}

	s.writeToken(w, creds.Username)
}

// Register creates an account and returns a token.
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Bad format", http.StatusBadRequest)
		return
	}
	if creds.Username == "" || creds.Password == "" {
		http.Error(w, "Bad format", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	if err := s.users.CreateUser(r.Context(), creds.Username, string(hash)); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			http.Error(w, "Already exists", http.StatusForbidden)
		} else {
			http.Error(w, "Internal error", http.StatusInternalServerError)
		}
		return
	}

	s.writeToken(w, creds.Username)
}

func (s *Service) writeToken(w http.ResponseWriter, uid string) {
	token, err := s.Sign(uid)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, token)
}

// Middleware guards plain HTTP endpoints with a bearer token.
func (s *Service) Middleware(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.Header.Get("Authorization"), "Bearer ")
		if len(parts) != 2 {
			http.Error(w, "Invalid token", http.StatusForbidden)
			return
		}
		uid, err := s.Verify(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusForbidden)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), uidKey{}, uid)))
	}
}

type uidKey struct{}

// UID extracts the authenticated user from a request context.
func UID(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(uidKey{}).(string)
	return uid, ok
}
