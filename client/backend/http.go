package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/riseandspeak/backend/api/transport"
	"github.com/riseandspeak/backend/domain"
)

// HTTPOptions tune the HTTP backend.
type HTTPOptions struct {
	Timeout time.Duration
	Client  *fasthttp.Client
	Logger  *zap.Logger
}

// HTTP talks to the auth service over its envelope protocol.
type HTTP struct {
	baseURL string
	client  *fasthttp.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewHTTP builds an HTTP backend rooted at baseURL (e.g. "https://api.riseandspeak.com").
func NewHTTP(baseURL string, opts HTTPOptions) *HTTP {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &fasthttp.Client{
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.Client,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

func (h *HTTP) SignIn(ctx context.Context, email, password string) (*domain.User, string, error) {
	var resp transport.AuthResponse
	err := h.do(ctx, fasthttp.MethodPost, "/auth/signin", "", transport.SignInRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, "", err
	}
	return resp.User, resp.Token, nil
}

func (h *HTTP) SignUp(ctx context.Context, email, password, name string) (*domain.User, string, error) {
	var resp transport.AuthResponse
	err := h.do(ctx, fasthttp.MethodPost, "/auth/signup", "", transport.SignUpRequest{Email: email, Password: password, Name: name}, &resp)
	if err != nil {
		return nil, "", err
	}
	return resp.User, resp.Token, nil
}

func (h *HTTP) SignOut(ctx context.Context, token string) error {
	return h.do(ctx, fasthttp.MethodPost, "/auth/signout", token, nil, nil)
}

func (h *HTTP) Refresh(ctx context.Context, token string) (*domain.User, error) {
	var user domain.User
	if err := h.do(ctx, fasthttp.MethodPost, "/auth/refresh", token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (h *HTTP) UpdateProfile(ctx context.Context, token string, update *domain.ProfileUpdate) (*domain.User, error) {
	var user domain.User
	if err := h.do(ctx, fasthttp.MethodPut, "/user/profile", token, update, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (h *HTTP) ResetPassword(ctx context.Context, email string) error {
	return h.do(ctx, fasthttp.MethodPost, "/auth/reset-password", "", transport.ResetPasswordRequest{Email: email}, nil)
}

func (h *HTTP) DeleteAccount(ctx context.Context, token string) error {
	return h.do(ctx, fasthttp.MethodDelete, "/user/delete", token, nil, nil)
}

// do performs a request and decodes the data payload of the envelope into out.
func (h *HTTP) do(ctx context.Context, method, path, token string, body interface{}, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(h.baseURL + path)
	req.Header.SetContentType("application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		req.SetBody(payload)
	}

	deadline := time.Now().Add(h.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := h.client.DoDeadline(req, resp, deadline); err != nil {
		h.logger.Debug("backend request failed", zap.String("path", path), zap.Error(err))
		return domain.WrapError(domain.ErrCodeUnavailable, "backend unreachable", err)
	}

	status := resp.StatusCode()

	var env transport.Envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		// some middleware rejections carry no body at all
		if status >= http.StatusBadRequest {
			return errorFromEnvelope(status, transport.Envelope{})
		}
		return domain.WrapError(domain.ErrCodeUnavailable, "malformed backend response", err)
	}

	if status >= http.StatusBadRequest || env.Status == "error" {
		return errorFromEnvelope(status, env)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return domain.WrapError(domain.ErrCodeUnavailable, "malformed backend payload", err)
		}
	}
	return nil
}

func errorFromEnvelope(status int, env transport.Envelope) error {
	switch domain.ErrorCode(env.Code) {
	case domain.ErrCodeAuthFailed:
		return domain.ErrAuthenticationFailed
	case domain.ErrCodeAccountExists:
		return domain.ErrAccountAlreadyExists
	case domain.ErrCodeNotAuthenticated:
		return domain.ErrNotAuthenticated
	case domain.ErrCodeInvalid:
		return domain.ErrInvalidPayload
	case domain.ErrCodeNotFound:
		return domain.ErrUserNotFound
	}

	switch status {
	case http.StatusUnauthorized:
		return domain.ErrNotAuthenticated
	case http.StatusConflict:
		return domain.ErrAccountAlreadyExists
	default:
		return domain.NewError(domain.ErrCodeUnavailable, env.Error)
	}
}

var _ Backend = (*HTTP)(nil)
