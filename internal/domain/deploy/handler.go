package deploy

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/opsdeck/opsdeck/internal/domain/session"
	"github.com/opsdeck/opsdeck/internal/utils"
)

// Handler exposes the deploy lifecycle for the authenticated account.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler creates the deploy handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// StartRequest names the job slot to run.
type StartRequest struct {
	JobSlot int `json:"job_slot"`
}

// Start launches a remote run for the caller's account.
func (h *Handler) Start(c *fiber.Ctx) error {
	sess := session.FromCtx(c)
	if sess == nil {
		return utils.ErrNotAuthenticated
	}

	var req StartRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, "invalid_body", fiber.StatusBadRequest)
	}
	if req.JobSlot <= 0 {
		return utils.ErrorResponse(c, "invalid_job_slot", fiber.StatusBadRequest)
	}

	d, err := h.coordinator.Launch(c.UserContext(), sess.Account.ID, req.JobSlot)
	if err != nil {
		if errors.Is(err, ErrAlreadyDeployed) {
			return utils.ErrorResponse(c, "already_deployed", fiber.StatusConflict)
		}
		return utils.ErrorResponse(c, "deploy_failed", fiber.StatusBadGateway)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"deployed_at":     d.DeployedAt,
		"job_slot":        d.JobSlot,
		"external_run_id": d.ExternalRunID,
	}, "Deployment started", fiber.StatusCreated)
}

// Stop tears down the caller's tracked job. The bookkeeping is
// cleared even when the remote steps fail, so the response reports
// the degree of success instead of mapping partial failure to an
// error status.
func (h *Handler) Stop(c *fiber.Ctx) error {
	sess := session.FromCtx(c)
	if sess == nil {
		return utils.ErrNotAuthenticated
	}

	out, err := h.coordinator.Teardown(c.UserContext(), sess.Account.ID, sess.Account.Deployment())
	if err != nil {
		return utils.ErrorResponse(c, "teardown_failed", fiber.StatusInternalServerError)
	}

	msg := "Deployment stopped"
	if !out.Success {
		msg = "Deployment cleared with remote failures"
	}
	return utils.SuccessResponse(c, fiber.Map{
		"success":        out.Success,
		"tunnel_stopped": out.TunnelStopped,
		"run_cancelled":  out.RunCancelled,
	}, msg)
}

// Status proxies the remote runner's view of the tracked run.
func (h *Handler) Status(c *fiber.Ctx) error {
	sess := session.FromCtx(c)
	if sess == nil {
		return utils.ErrNotAuthenticated
	}

	st, err := h.coordinator.Status(c.UserContext(), sess.Account.ID)
	if err != nil {
		if errors.Is(err, ErrNoDeployment) {
			return utils.ErrorResponse(c, "no_deployment", fiber.StatusNotFound)
		}
		return utils.ErrorResponse(c, "status_unavailable", fiber.StatusBadGateway)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"status":     st.Status,
		"conclusion": st.Conclusion,
	}, "")
}
