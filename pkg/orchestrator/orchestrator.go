// Package orchestrator implements the deployment dispatch loop: it polls
// the queue, runs at most one deployment at a time through the task
// pipeline, and routes cancellation markers to whichever deployment is
// currently active.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	log "github.com/cuemby/dagent/pkg/agentlog"
	"github.com/cuemby/dagent/pkg/deploytask"
	"github.com/cuemby/dagent/pkg/domain"
	"github.com/cuemby/dagent/pkg/finisher"
	"github.com/cuemby/dagent/pkg/groups"
	"github.com/cuemby/dagent/pkg/hostupdate"
	events "github.com/cuemby/dagent/pkg/lifecycle"
	"github.com/cuemby/dagent/pkg/metrics"
	"github.com/cuemby/dagent/pkg/queue"
	"github.com/cuemby/dagent/pkg/status"
	"github.com/cuemby/dagent/pkg/storage"
	"github.com/cuemby/dagent/pkg/workspace"
)

const defaultPollInterval = time.Second

// Orchestrator owns the single active-deployment slot: exactly one
// deployment runs through the pipeline at a time, with a second SHADOW
// allowed to wait one slot deep in the queue.
type Orchestrator struct {
	Queue      *queue.DeploymentQueue
	Workspace  *workspace.Manager
	Groups     *groups.Store
	HostUpdate *hostupdate.Task
	Task       *deploytask.Task
	Finisher   *finisher.Finisher
	// Status publishes the IN_PROGRESS record at dispatch, ahead of the
	// Finisher's terminal SUCCEEDED/FAILED/REJECTED record.
	Status *status.Keeper
	// Events is optional: when set, dispatch start is published alongside
	// the Finisher's terminal events.
	Events *events.Broker
	// Store answers whether a polled cloud job was already committed in a
	// previous process lifetime, so a retransmit that slipped past the
	// queue's dedup window is dropped instead of re-executed.
	Store storage.Store

	// PollInterval bounds how often an idle loop checks the queue again.
	// Defaults to one second if zero.
	PollInterval time.Duration

	mu     sync.Mutex
	active *activeTask
	stopCh chan struct{}
	doneCh chan struct{}
}

// activeTask tracks the deployment currently running through the pipeline,
// so an incoming cancellation marker at the head of the queue can be
// matched to it and its context cancelled.
type activeTask struct {
	key    domain.Key
	cancel context.CancelFunc
}

func (o *Orchestrator) pollInterval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return defaultPollInterval
}

// Start resumes any host-agent update left in flight across a restart, then
// launches the main loop in the background. Callers stop the orchestrator
// by calling Stop, or by cancelling ctx.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.resumeHostAgentUpdate(); err != nil {
		return err
	}

	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	go o.run(ctx)
	return nil
}

// Stop signals the main loop to exit and blocks until it has.
func (o *Orchestrator) Stop() {
	if o.stopCh == nil {
		return
	}
	close(o.stopCh)
	<-o.doneCh
}

// resumeHostAgentUpdate settles a deployment left mid host-agent restart:
// it is completed or rolled back before the main loop starts taking new
// work. No ongoing workspace at all is the common case and not an error.
func (o *Orchestrator) resumeHostAgentUpdate() error {
	outcome, err := o.HostUpdate.Resume()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	switch {
	case outcome.Requeue != nil:
		if _, err := o.Queue.Offer(outcome.Requeue); err != nil {
			return err
		}
	case outcome.Result != nil:
		d, readErr := o.Workspace.ReadDeploymentMetadata()
		if readErr != nil {
			return readErr
		}
		return o.finish(d, outcome.Result)
	}
	return nil
}

// run is the main dispatch loop: a queue-driven poll with at most one
// deployment active at a time.
func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.doneCh)

	ticker := time.NewTicker(o.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick runs one poll cycle: if a deployment is active, it only checks
// whether the queue head is a cancellation marker for that deployment;
// otherwise it pulls the next deployment and dispatches it to its own
// goroutine.
func (o *Orchestrator) tick(ctx context.Context) {
	if o.handleCancellationOfActive() {
		return
	}
	if o.isActive() {
		return
	}

	d := o.Queue.Poll()
	if d == nil {
		return
	}
	if d.Cancelled {
		// A cancellation marker with nothing active to cancel: the
		// deployment it targeted already finished or never started.
		return
	}
	if d.Type == domain.TypeCloudJob && o.alreadyProcessed(d) {
		dispatchLogger := log.WithDeployment(d.DeploymentID, string(d.Type))
		dispatchLogger.Info().Msg("dropping retransmit of committed deployment")
		return
	}

	metrics.QueueDepth.Set(float64(len(o.Queue.Snapshot())))
	o.Events.Publish(&events.Event{Type: events.EventDeploymentStarted, DeploymentID: d.DeploymentID, Metadata: map[string]string{"type": string(d.Type)}})
	o.dispatch(ctx, d)
}

// handleCancellationOfActive peeks the queue head without consuming it,
// unless it is a cancellation marker matching the active deployment.
// Cancelling any other queued entry is handled by the queue's own replace
// rules, not here.
func (o *Orchestrator) handleCancellationOfActive() bool {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	if active == nil {
		return false
	}

	head := o.Queue.Snapshot()
	if len(head) == 0 {
		return false
	}
	if !head[0].Cancelled || head[0].Key() != active.key {
		return false
	}

	marker := o.Queue.Poll()
	if marker == nil || marker.Key() != active.key {
		return false
	}
	active.cancel()
	cancelLogger := log.WithDeployment(active.key.DeploymentID, string(active.key.Type))
	cancelLogger.Info().Msg("cancellation requested for active deployment")
	return true
}

func (o *Orchestrator) alreadyProcessed(d *domain.Deployment) bool {
	if o.Store == nil {
		return false
	}
	processed, err := o.Store.IsDeploymentProcessed(d.DeploymentID)
	if err != nil {
		log.Errorf("orchestrator: check processed deployments: %v", err)
		return false
	}
	return processed
}

func (o *Orchestrator) isActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// dispatch hands d to the deployment task pipeline on its own goroutine and
// returns immediately: the loop must keep polling for a cancellation
// marker while the task is in flight (the safety-window wait and the
// convergence poll can both run for minutes), so the run loop itself can
// never block on Task.Run. Only DEFAULT and BOOTSTRAP stage
// deployments reach here; HOST_AGENT_ACTIVATION/ROLLBACK stages are settled
// by resumeHostAgentUpdate at process start, never by the live loop.
func (o *Orchestrator) dispatch(ctx context.Context, d *domain.Deployment) {
	taskCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.active = &activeTask{key: d.Key(), cancel: cancel}
	o.mu.Unlock()

	go o.runActive(taskCtx, cancel, d)
}

// runActive carries out the deployment pipeline in the background and
// clears the active-task slot on exit, regardless of outcome, so the next
// tick can dispatch whatever is queued behind it.
func (o *Orchestrator) runActive(taskCtx context.Context, cancel context.CancelFunc, d *domain.Deployment) {
	metrics.UpdateComponent("orchestrator", true, "running "+d.DeploymentID)
	defer cancel()
	defer func() {
		o.mu.Lock()
		o.active = nil
		o.mu.Unlock()
		metrics.UpdateComponent("orchestrator", true, "idle")
	}()

	if _, err := o.Workspace.CreateNewDeploymentDirectory(d.ConfigurationArn); err != nil {
		metrics.UpdateComponent("orchestrator", false, "create deployment directory: "+err.Error())
		log.Errorf("orchestrator: create deployment directory: %v", err)
		return
	}
	if err := o.Workspace.WriteDeploymentMetadata(d); err != nil {
		log.Errorf("orchestrator: write deployment metadata: %v", err)
		return
	}

	if err := o.Status.PersistAndPublishDeploymentStatus(d.DeploymentID, d.ConfigurationArn, d.Type, domain.JobStatusInProgress, domain.StatusDetails{}, d.Document.RootNames()); err != nil {
		log.Errorf("orchestrator: publish in-progress status: %v", err)
	}

	groupToRoots, err := o.Groups.AllGroups()
	if err != nil {
		log.Errorf("orchestrator: load group roots: %v", err)
		return
	}

	timer := metrics.NewTimer()
	result := o.Task.Run(taskCtx, d, groupToRoots)
	timer.ObserveDurationVec(metrics.DeploymentDuration, string(d.Type))
	metrics.DeploymentsTotal.WithLabelValues(string(d.Type), string(result.Status)).Inc()

	if !result.IsTerminal() {
		// A deployment cancelled before any state change produces no
		// status record at all.
		noStateChangeLogger := log.WithDeployment(d.DeploymentID, string(d.Type))
		noStateChangeLogger.Info().Msg("deployment cancelled with no state change")
		return
	}

	if err := o.finish(d, result); err != nil {
		log.Errorf("orchestrator: finish deployment: %v", err)
	}
}

func (o *Orchestrator) finish(d *domain.Deployment, result *domain.DeploymentResult) error {
	return o.Finisher.Finish(d, result)
}
