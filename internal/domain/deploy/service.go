package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opsdeck/opsdeck/internal/domain/account"
	"github.com/opsdeck/opsdeck/internal/metrics"
)

var (
	// ErrAlreadyDeployed is returned when launching while a job is
	// already tracked for the account.
	ErrAlreadyDeployed = errors.New("a job is already deployed for this account")
	// ErrNoDeployment is returned when querying status with no
	// tracked deployment.
	ErrNoDeployment = errors.New("no job is deployed for this account")
)

// Store is the slice of the credential store the coordinator mutates.
type Store interface {
	GetByID(id uuid.UUID) (*account.Account, error)
	SetDeployment(id uuid.UUID, d account.Deployment) error
	ClearDeployment(id uuid.UUID) error
}

// Outcome reports what a teardown managed to do. Success is true only
// if every remote step that applied succeeded; the local bookkeeping
// is cleared regardless, so after any outcome the account no longer
// claims a running job.
type Outcome struct {
	Success       bool
	TunnelStopped bool
	RunCancelled  bool
	// StepErr joins the remote-step failures, for logging and for
	// callers that surface teardown failure to the user.
	StepErr error
}

// Coordinator owns the at-most-one-job invariant: it starts runs,
// answers status and drives idempotent teardown.
type Coordinator struct {
	store       Store
	gateway     Gateway
	metrics     *metrics.Collector
	callTimeout time.Duration
	now         func() time.Time
}

// NewCoordinator creates a deployment coordinator. callTimeout bounds
// each external call, never the whole teardown.
func NewCoordinator(store Store, gateway Gateway, collector *metrics.Collector, callTimeout time.Duration) *Coordinator {
	return &Coordinator{
		store:       store,
		gateway:     gateway,
		metrics:     collector,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Teardown stops whatever the descriptor says is running and then
// unconditionally clears the account's deployment bookkeeping. Safe
// to call with an empty descriptor (no-op success). The returned
// error is reserved for the bookkeeping write; remote-step failures
// land in Outcome.StepErr with Success=false.
//
// The ordering is deliberate and must stay: attempt the remote calls
// first, then always clear local state. Making this transactional
// would let a broken external dependency wedge the account's session
// and deployment slot forever.
func (c *Coordinator) Teardown(ctx context.Context, accountID uuid.UUID, d account.Deployment) (Outcome, error) {
	started := c.now()
	var out Outcome
	var stepErrs []error

	if d.JobSlot != nil {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		ok, status, err := c.gateway.StopTunnelJob(callCtx, accountID, *d.JobSlot)
		cancel()
		switch {
		case err != nil:
			stepErrs = append(stepErrs, fmt.Errorf("tunnel stop: %w", err))
			slog.Warn("Tunnel stop failed during teardown",
				"account_id", accountID.String(), "job_slot", *d.JobSlot, "error", err)
		case !ok:
			stepErrs = append(stepErrs, fmt.Errorf("tunnel stop returned status %d", status))
			slog.Warn("Tunnel stop rejected during teardown",
				"account_id", accountID.String(), "job_slot", *d.JobSlot, "status", status)
		default:
			out.TunnelStopped = true
		}
	}

	if d.ExternalRunID != nil {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		ok, status, err := c.gateway.CancelRemoteRun(callCtx, *d.ExternalRunID)
		cancel()
		switch {
		case err != nil:
			stepErrs = append(stepErrs, fmt.Errorf("run cancel: %w", err))
			slog.Warn("Remote run cancel failed during teardown",
				"account_id", accountID.String(), "run_id", *d.ExternalRunID, "error", err)
		case !ok:
			stepErrs = append(stepErrs, fmt.Errorf("run cancel returned status %d", status))
			slog.Warn("Remote run cancel rejected during teardown",
				"account_id", accountID.String(), "run_id", *d.ExternalRunID, "status", status)
		default:
			out.RunCancelled = true
		}
	}

	out.Success = len(stepErrs) == 0
	out.StepErr = errors.Join(stepErrs...)

	// Clear bookkeeping no matter what happened above. An orphaned
	// remote job is a logged, findable problem; a wedged account is
	// not an acceptable one.
	if err := c.store.ClearDeployment(accountID); err != nil {
		c.metrics.RecordTeardown("partial", c.now().Sub(started))
		return out, fmt.Errorf("failed to clear deployment bookkeeping: %w", err)
	}

	if out.Success {
		c.metrics.RecordTeardown("success", c.now().Sub(started))
	} else {
		c.metrics.RecordTeardown("partial", c.now().Sub(started))
		slog.Error("Teardown left an orphaned remote job",
			"account_id", accountID.String(),
			"job_slot", deref(d.JobSlot),
			"run_id", derefStr(d.ExternalRunID),
			"error", out.StepErr)
	}

	return out, nil
}

// Undeploy adapts Teardown to the session manager's needs: ok is true
// only when the remote steps fully succeeded.
func (c *Coordinator) Undeploy(ctx context.Context, acct *account.Account) (bool, error) {
	out, err := c.Teardown(ctx, acct.ID, acct.Deployment())
	if err != nil {
		return false, err
	}
	return out.Success, out.StepErr
}

// Launch starts a remote run for the account's job slot and records
// the deployment descriptor. Launching over a tracked deployment is
// rejected before any remote call.
func (c *Coordinator) Launch(ctx context.Context, accountID uuid.UUID, jobSlot int) (account.Deployment, error) {
	acct, err := c.store.GetByID(accountID)
	if err != nil {
		return account.Deployment{}, err
	}
	if !acct.Deployment().Empty() {
		return account.Deployment{}, ErrAlreadyDeployed
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	runID, err := c.gateway.StartRemoteRun(callCtx, accountID, jobSlot)
	cancel()
	if err != nil {
		return account.Deployment{}, fmt.Errorf("failed to start remote run: %w", err)
	}

	deployedAt := c.now().UTC()
	d := account.Deployment{
		DeployedAt:    &deployedAt,
		JobSlot:       &jobSlot,
		ExternalRunID: &runID,
	}

	if err := c.store.SetDeployment(accountID, d); err != nil {
		// The run is already started; try to take it back down so the
		// account does not end up with an untracked job.
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		if ok, status, cerr := c.gateway.CancelRemoteRun(callCtx, runID); cerr != nil || !ok {
			slog.Error("Failed to cancel run after bookkeeping failure",
				"account_id", accountID.String(), "run_id", runID, "status", status, "error", cerr)
		}
		cancel()
		return account.Deployment{}, fmt.Errorf("failed to record deployment: %w", err)
	}

	return d, nil
}

// Status reports the remote runner's view of the account's tracked
// run. Tunnel-only deployments have no run id and report a static
// running status.
func (c *Coordinator) Status(ctx context.Context, accountID uuid.UUID) (RunStatus, error) {
	acct, err := c.store.GetByID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RunStatus{}, ErrNoDeployment
		}
		return RunStatus{}, err
	}

	d := acct.Deployment()
	if d.Empty() {
		return RunStatus{}, ErrNoDeployment
	}
	if d.ExternalRunID == nil {
		return RunStatus{Status: "running", Conclusion: "tunnel_only"}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.gateway.GetRemoteRunStatus(callCtx, *d.ExternalRunID)
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
