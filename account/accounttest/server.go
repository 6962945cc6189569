// Package accounttest runs an in-process fake of the account service for
// tests and local demos. Passwords are bcrypt-hashed and tokens are HS256 JWTs,
// so the client under test sees the same wire behavior as in production.
package accounttest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/NguyenMinh4869/toystory/jwt"
)

// Account is a seeded user.
type Account struct {
	ID          int64
	Email       string
	Password    string
	Name        string
	PhoneNumber string
	Address     string
	Role        string
	Status      string
}

type record struct {
	Account
	hash []byte
}

// Calls counts requests per endpoint.
type Calls struct {
	Login  int64
	Me     int64
	Logout int64
}

// Server is a fake account service. The zero value is not usable; call
// [NewServer] or [NewHandler].
type Server struct {
	mu       sync.RWMutex
	accounts map[string]*record
	revoked  map[string]struct{}
	tokens   *jwt.Manager

	profileDown atomic.Bool
	loginDown   atomic.Bool
	loginDelay  atomic.Int64

	loginCalls  atomic.Int64
	meCalls     atomic.Int64
	logoutCalls atomic.Int64

	http *httptest.Server
}

var testSecret = []byte("accounttest-signing-secret-000000")

// NewHandler returns a fake that is not listening. Use [Server.Routes] to
// mount it.
func NewHandler(accounts ...Account) (*Server, error) {
	tokens, err := jwt.NewManager(jwt.Config{
		TTL:           time.Hour,
		SigningMethod: jwt.MethodHS256,
		Secret:        testSecret,
		Issuer:        "accounttest",
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		accounts: make(map[string]*record),
		revoked:  make(map[string]struct{}),
		tokens:   tokens,
	}
	for _, a := range accounts {
		if err := s.AddAccount(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewServer starts the fake on a loopback listener. Close it when done.
func NewServer(accounts ...Account) (*Server, error) {
	s, err := NewHandler(accounts...)
	if err != nil {
		return nil, err
	}
	s.http = httptest.NewServer(s.Routes())
	return s, nil
}

// URL is the base URL of a server started with [NewServer].
func (s *Server) URL() string {
	if s.http == nil {
		return ""
	}
	return s.http.URL
}

func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}
}

// AddAccount seeds a. Email matching is case-insensitive.
func (s *Server) AddAccount(a Account) error {
	email := strings.ToLower(strings.TrimSpace(a.Email))
	if email == "" || a.Password == "" {
		return errors.New("accounttest: account needs email and password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = "Active"
	}

	s.mu.Lock()
	s.accounts[email] = &record{Account: a, hash: hash}
	s.mu.Unlock()
	return nil
}

// SetProfileDown makes /api/auth/me answer 503.
func (s *Server) SetProfileDown(down bool) { s.profileDown.Store(down) }

// SetLoginDown makes /api/auth/login answer 500.
func (s *Server) SetLoginDown(down bool) { s.loginDown.Store(down) }

// SetLoginDelay delays every login answer by d.
func (s *Server) SetLoginDelay(d time.Duration) { s.loginDelay.Store(int64(d)) }

func (s *Server) Calls() Calls {
	return Calls{
		Login:  s.loginCalls.Load(),
		Me:     s.meCalls.Load(),
		Logout: s.logoutCalls.Load(),
	}
}

// Revoked reports whether token was logged out.
func (s *Server) Revoked(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[token]
	return ok
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Get("/me", s.handleMe)
		r.Post("/logout", s.handleLogout)
	})
	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string `json:"token"`
	Role    string `json:"role"`
	Message string `json:"message"`
}

type errorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

type profileResponse struct {
	AccountID   int64  `json:"accountId"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Address     string `json:"address,omitempty"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)
	if d := time.Duration(s.loginDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	if s.loginDown.Load() {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid JSON payload"})
		return
	}

	fields := map[string][]string{}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		fields["email"] = append(fields["email"], "Email is invalid")
	}
	if req.Password == "" {
		fields["password"] = append(fields["password"], "Password is required")
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Validation failed", Errors: fields})
		return
	}

	s.mu.RLock()
	rec, ok := s.accounts[email]
	s.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(rec.hash, []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "Invalid email or password"})
		return
	}

	token, err := s.tokens.Issue(rec.ID, email, rec.Role)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Role: rec.Role, Message: "Login successful"})
}

func (s *Server) authorize(r *http.Request) (*record, bool) {
	const bearer = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, bearer) {
		return nil, false
	}
	token := h[len(bearer):]

	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, gone := s.revoked[token]; gone {
		return nil, false
	}
	rec, ok := s.accounts[claims.Email]
	return rec, ok
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.meCalls.Add(1)
	if s.profileDown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Message: "profile service unavailable"})
		return
	}
	rec, ok := s.authorize(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "Unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		AccountID:   rec.ID,
		Email:       strings.ToLower(rec.Email),
		Name:        rec.Name,
		PhoneNumber: rec.PhoneNumber,
		Address:     rec.Address,
		Role:        rec.Role,
		Status:      rec.Status,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)
	if _, ok := s.authorize(r); !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "Unauthorized"})
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	s.revoked[token] = struct{}{}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
