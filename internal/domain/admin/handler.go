package admin

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opsdeck/opsdeck/internal/domain/session"
	"github.com/opsdeck/opsdeck/internal/utils"
)

const adminKey = "validated_admin"

// Handler exposes admin login and the account administration actions.
type Handler struct {
	service *Service
	cookies session.CookieSet
}

// NewHandler creates the admin handler.
func NewHandler(service *Service, cookies session.CookieSet) *Handler {
	return &Handler{service: service, cookies: cookies}
}

// LoginRequest is the admin login form body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates an admin and sets the admin cookie namespace.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, "invalid_body", fiber.StatusBadRequest)
	}
	if req.Username == "" || req.Password == "" {
		return utils.ErrorResponse(c, "invalid_body", fiber.StatusBadRequest)
	}

	grant, err := h.service.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return utils.ErrorResponse(c, "invalid_credentials", fiber.StatusUnauthorized)
		}
		return utils.ErrorResponse(c, "login_failed", fiber.StatusInternalServerError)
	}

	h.cookies.Write(c, grant.AccountID, grant.Token, grant.SessionID)
	return utils.SuccessResponse(c, fiber.Map{"admin_id": grant.AccountID.String()}, "Login successful")
}

// Logout clears the admin session.
func (h *Handler) Logout(c *fiber.Ctx) error {
	if proof, ok := h.cookies.Read(c); ok {
		if err := h.service.Logout(proof); err != nil {
			return utils.ErrorResponse(c, "logout_failed", fiber.StatusInternalServerError)
		}
	}
	h.cookies.Clear(c)
	return utils.SuccessResponse(c, nil, "Logged out")
}

// IssueToken mints a provisioning token for an account.
func (h *Handler) IssueToken(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, "invalid_account_id", fiber.StatusBadRequest)
	}

	token, exp, err := h.service.IssueToken(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, "account_not_found", fiber.StatusNotFound)
		}
		return utils.ErrorResponse(c, "token_issue_failed", fiber.StatusInternalServerError)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"access_token": token,
		"expires_at":   exp,
	}, "Token issued", fiber.StatusCreated)
}

// RevokeToken revokes an account's provisioning token and terminates
// its live session.
func (h *Handler) RevokeToken(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, "invalid_account_id", fiber.StatusBadRequest)
	}

	if err := h.service.RevokeToken(c.UserContext(), accountID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, "account_not_found", fiber.StatusNotFound)
		}
		return utils.ErrorResponse(c, "token_revoke_failed", fiber.StatusInternalServerError)
	}

	return utils.SuccessResponse(c, nil, "Token revoked")
}

// ForceLogout terminates an account's session and job.
func (h *Handler) ForceLogout(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, "invalid_account_id", fiber.StatusBadRequest)
	}

	if err := h.service.ForceLogout(c.UserContext(), accountID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, "account_not_found", fiber.StatusNotFound)
		}
		return utils.ErrorResponse(c, "force_logout_failed", fiber.StatusInternalServerError)
	}

	return utils.SuccessResponse(c, nil, "Account logged out")
}

// Middleware guards admin routes with the admin cookie namespace.
func Middleware(s *Service, cookies session.CookieSet) fiber.Handler {
	return func(c *fiber.Ctx) error {
		proof, ok := cookies.Read(c)
		if !ok {
			return utils.ErrNotAuthenticated
		}

		adm, err := s.Validate(proof)
		if err != nil {
			return utils.ErrSessionValidationFailed
		}
		if adm == nil {
			cookies.Clear(c)
			return utils.ErrNotAuthenticated
		}

		c.Locals(adminKey, adm)
		return c.Next()
	}
}

// FromCtx extracts the validated admin placed by Middleware.
func FromCtx(c *fiber.Ctx) *Admin {
	adm, ok := c.Locals(adminKey).(*Admin)
	if !ok {
		return nil
	}
	return adm
}
