package integrations

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cognitedata/edge-camera-remote/internal"
	log "github.com/sirupsen/logrus"
)

const (
	IntegrationStateStopped = "stopped"
	IntegrationStateRunning = "running"
)

// BaseIntegration is the common part of all integrations. Integrations are long
// running processes started by the service; BaseIntegration runs their main
// function in a goroutine, survives panics and tracks whether it is running.
type BaseIntegration struct {
	ID           string
	StateTracker *internal.StateTracker
	StopTimeout  time.Duration

	mux    sync.Mutex
	cancel context.CancelFunc
	err    error
	log    *log.Entry
}

func NewIntegration(id string) *BaseIntegration {
	return &BaseIntegration{
		ID:           id,
		StateTracker: internal.NewStateTracker(IntegrationStateStopped),
		StopTimeout:  time.Second * 120,
		log:          log.WithField("integration", id),
	}
}

// Run starts run in its own goroutine. The context passed to run is
// cancelled by Stop.
func (intgr *BaseIntegration) Run(run func(ctx context.Context) error) error {
	if _, ok := intgr.StateTracker.CompareAndSetCurrentState(IntegrationStateRunning, IntegrationStateStopped); !ok {
		return fmt.Errorf("integration %s is already running", intgr.ID)
	}
	intgr.StateTracker.SetTargetState(IntegrationStateRunning)
	ctx, cancel := context.WithCancel(context.Background())
	intgr.mux.Lock()
	intgr.cancel = cancel
	intgr.err = nil
	intgr.mux.Unlock()

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				intgr.log.Error("integration failed with panic: ", string(debug.Stack()))
				err = fmt.Errorf("panic: %v", r)
			}
			cancel()
			intgr.mux.Lock()
			intgr.err = err
			intgr.mux.Unlock()
			intgr.StateTracker.SetCurrentState(IntegrationStateStopped)
		}()
		intgr.log.Info("integration started")
		err = run(ctx)
		if err != nil {
			intgr.log.Error("integration stopped with error: ", err)
		} else {
			intgr.log.Info("integration stopped")
		}
	}()
	return nil
}

func (intgr *BaseIntegration) IsRunning() bool {
	return intgr.StateTracker.CurrentState() == IntegrationStateRunning
}

// Err returns the error the last run ended with.
func (intgr *BaseIntegration) Err() error {
	intgr.mux.Lock()
	defer intgr.mux.Unlock()
	return intgr.err
}

// Stop cancels the running integration and waits for it to finish.
func (intgr *BaseIntegration) Stop() {
	intgr.StateTracker.SetTargetState(IntegrationStateStopped)
	intgr.mux.Lock()
	cancel := intgr.cancel
	intgr.mux.Unlock()
	if cancel == nil || !intgr.IsRunning() {
		intgr.log.Info("integration is already stopped")
		return
	}
	intgr.log.Info("sending stop signal")
	cancel()
	if !intgr.StateTracker.WaitForState(IntegrationStateStopped, intgr.StopTimeout) {
		intgr.log.Errorf("integration is still running after %s", intgr.StopTimeout)
	}
}
