package session

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/opsdeck/opsdeck/internal/metrics"
	"github.com/opsdeck/opsdeck/internal/ratelimit"
	"github.com/opsdeck/opsdeck/internal/utils"
)

// Handler exposes login, logout and session introspection.
type Handler struct {
	manager *Manager
	gate    *ratelimit.Gate
	cookies CookieSet
	metrics *metrics.Collector
}

// NewHandler creates the auth handler.
func NewHandler(manager *Manager, gate *ratelimit.Gate, cookies CookieSet, collector *metrics.Collector) *Handler {
	return &Handler{manager: manager, gate: gate, cookies: cookies, metrics: collector}
}

// LoginRequest is the login form body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login drives the full claim path: rate gate, credential check,
// possible supersession, cookie issuance.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, "invalid_body", fiber.StatusBadRequest)
	}
	if req.Username == "" || req.Password == "" {
		return utils.ErrorResponse(c, "invalid_body", fiber.StatusBadRequest)
	}

	if d := h.gate.CheckAndRecord(req.Username); !d.Allowed {
		h.metrics.RecordLogin("rate_limited")
		c.Set("Retry-After", fmt.Sprintf("%d", int(d.RetryAfter.Seconds())+1))
		return utils.ErrorResponse(c, "rate_limited", fiber.StatusTooManyRequests)
	}

	grant, err := h.manager.Claim(c.UserContext(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			h.metrics.RecordLogin("invalid_credentials")
			return utils.ErrorResponse(c, "invalid_credentials", fiber.StatusUnauthorized)
		case errors.Is(err, ErrTeardownBlocked):
			h.metrics.RecordLogin("teardown_blocked")
			return utils.ErrorResponse(c, "previous_job_teardown_failed", fiber.StatusConflict)
		case errors.Is(err, ErrConcurrentLogin):
			h.metrics.RecordLogin("concurrent_login")
			return utils.ErrorResponse(c, "login_conflict", fiber.StatusConflict)
		default:
			return utils.ErrorResponse(c, "login_failed", fiber.StatusInternalServerError)
		}
	}

	h.metrics.RecordLogin("success")
	h.cookies.Write(c, grant.AccountID, grant.Token, grant.SessionID)

	return utils.SuccessResponse(c, fiber.Map{
		"account_id": grant.AccountID.String(),
		"session_id": grant.SessionID,
	}, "Login successful")
}

// Logout clears the caller's session. It accepts the cookies directly
// rather than requiring Middleware so a logout with an already-stale
// pair still lands on a cleared client.
func (h *Handler) Logout(c *fiber.Ctx) error {
	proof, ok := h.cookies.Read(c)
	if ok {
		if err := h.manager.Logout(c.UserContext(), proof); err != nil {
			return utils.ErrorResponse(c, "logout_failed", fiber.StatusInternalServerError)
		}
	}

	h.cookies.Clear(c)
	return utils.SuccessResponse(c, nil, "Logged out")
}

// Me returns the validated session's account view, including the
// deployment fields the panel renders.
func (h *Handler) Me(c *fiber.Ctx) error {
	sess := FromCtx(c)
	if sess == nil {
		return utils.ErrorResponse(c, "not_authenticated", fiber.StatusUnauthorized)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"account":    sess.Account,
		"session_id": sess.SessionID,
	}, "")
}
