package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	toystory "github.com/NguyenMinh4869/toystory"
)

const maxBodyBytes = 1 << 20

// Paths of the account service endpoints.
const (
	LoginPath  = "/api/auth/login"
	MePath     = "/api/auth/me"
	LogoutPath = "/api/auth/logout"
)

// BreakerConfig tunes the circuit breaker. Zero values take defaults.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker. Default 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open. Default 30s.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial requests. Default 1.
	HalfOpenRequests uint32
}

type Config struct {
	BaseURL string
	// HTTPClient is copied; its transport is wrapped with otelhttp.
	HTTPClient *http.Client
	// RequestTimeout bounds each request. Default 10s.
	RequestTimeout time.Duration
	Breaker        BreakerConfig
	Logger         *log.Logger
}

// Client is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*response]
	logger  *log.Logger
}

var _ toystory.AccountService = (*Client)(nil)

type response struct {
	status int
	body   []byte
}

var errServerStatus = errors.New("server error status")

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("account: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.New("account: base URL must be http or https")
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = 5
	}
	if cfg.Breaker.OpenTimeout <= 0 {
		cfg.Breaker.OpenTimeout = 30 * time.Second
	}
	if cfg.Breaker.HalfOpenRequests == 0 {
		cfg.Breaker.HalfOpenRequests = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		*hc = *cfg.HTTPClient
	}
	transport := hc.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	hc.Transport = otelhttp.NewTransport(transport)
	hc.Timeout = cfg.RequestTimeout

	c := &Client{base: base, http: hc, logger: logger}
	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "account-service",
		MaxRequests: cfg.Breaker.HalfOpenRequests,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// The caller giving up says nothing about the service.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Printf("account: breaker %s %s -> %s", name, from, to)
		},
	})
	return c, nil
}

// BreakerState reports "closed", "half-open" or "open".
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any) (*response, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, err
		}
	}

	res, err := c.breaker.Execute(func() (*response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		out := &response{status: resp.StatusCode, body: data}
		if resp.StatusCode >= 500 {
			return out, fmt.Errorf("%w %d", errServerStatus, resp.StatusCode)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", toystory.ErrNetwork, method, path, err)
	}
	return res, nil
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
	Errors  map[string][]string `json:"errors"`
}

func decodeError(body []byte) errorResponse {
	var e errorResponse
	_ = json.Unmarshal(body, &e)
	return e
}

// Login exchanges credentials for a token. 401 maps to
// toystory.ErrInvalidCredentials, 400 to *toystory.ValidationError and
// everything else that is not 200 to toystory.ErrNetwork.
func (c *Client) Login(ctx context.Context, email, password string) (toystory.LoginResult, error) {
	res, err := c.do(ctx, http.MethodPost, LoginPath, "", loginRequest{Email: email, Password: password})
	if err != nil {
		return toystory.LoginResult{}, err
	}

	switch res.status {
	case http.StatusOK:
		var body loginResponse
		if err := json.Unmarshal(res.body, &body); err != nil {
			return toystory.LoginResult{}, fmt.Errorf("%w: decode login response: %v", toystory.ErrNetwork, err)
		}
		return toystory.LoginResult{
			Token:   body.Token,
			Role:    toystory.ParseRole(body.Role),
			Message: body.Message,
		}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		msg := decodeError(res.body).Message
		if msg == "" {
			return toystory.LoginResult{}, toystory.ErrInvalidCredentials
		}
		return toystory.LoginResult{}, fmt.Errorf("%w: %s", toystory.ErrInvalidCredentials, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e := decodeError(res.body)
		return toystory.LoginResult{}, &toystory.ValidationError{Message: e.Message, Fields: e.Errors}
	default:
		return toystory.LoginResult{}, fmt.Errorf("%w: login answered %d", toystory.ErrNetwork, res.status)
	}
}

// CurrentUser fetches the profile of the account behind token.
func (c *Client) CurrentUser(ctx context.Context, token string) (toystory.UserProfile, error) {
	res, err := c.do(ctx, http.MethodGet, MePath, token, nil)
	if err != nil {
		return toystory.UserProfile{}, err
	}

	switch res.status {
	case http.StatusOK:
		var dto profileDTO
		if err := json.Unmarshal(res.body, &dto); err != nil {
			return toystory.UserProfile{}, fmt.Errorf("%w: decode profile: %v", toystory.ErrNetwork, err)
		}
		return dto.normalize()
	case http.StatusUnauthorized, http.StatusForbidden:
		return toystory.UserProfile{}, fmt.Errorf("%w: token rejected", toystory.ErrInvalidCredentials)
	default:
		return toystory.UserProfile{}, fmt.Errorf("%w: profile answered %d", toystory.ErrNetwork, res.status)
	}
}

// LogoutRemote invalidates token server-side. An already rejected token is
// not an error.
func (c *Client) LogoutRemote(ctx context.Context, token string) error {
	res, err := c.do(ctx, http.MethodPost, LogoutPath, token, nil)
	if err != nil {
		return err
	}
	if res.status/100 == 2 || res.status == http.StatusUnauthorized {
		return nil
	}
	return fmt.Errorf("%w: logout answered %d", toystory.ErrNetwork, res.status)
}
