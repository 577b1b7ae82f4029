package sony

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cognitedata/edge-camera-remote/internal"
	"github.com/coreos/go-semver/semver"
	"github.com/pkg/errors"
)

// Connect checks the camera's application version, starts the remote control
// session, loads the initial state and starts polling events in the
// background. It fails with ErrAlreadyConnecting while another Connect runs
// and succeeds immediately when already connected.
func (c *Camera) Connect(ctx context.Context) error {
	prev, ok := c.state.CompareAndSetCurrentState(internal.SessionStateConnecting, internal.SessionStateDisconnected)
	if !ok {
		if prev == internal.SessionStateConnected {
			return nil
		}
		return ErrAlreadyConnecting
	}
	c.state.SetTargetState(internal.SessionStateConnected)

	if err := c.startSession(ctx); err != nil {
		c.state.SetCurrentState(internal.SessionStateDisconnected)
		return err
	}
	return nil
}

func (c *Camera) startSession(ctx context.Context) error {
	version, err := c.GetAppVersion(ctx)
	if err != nil {
		return err
	}
	c.log.Info("app version ", version)
	if err := checkVersion(version, c.config.MinAppVersion); err != nil {
		return err
	}

	if _, err := c.transport.Call(ctx, "startRecMode"); err != nil {
		return err
	}
	sessionCtx, ok := c.beginSession()
	if !ok {
		// Disconnect ran while the session was starting
		if _, err := c.transport.Call(ctx, "stopRecMode"); err != nil {
			c.log.Warn("failed to stop aborted session: ", err)
		}
		return ErrConnectAborted
	}

	if err := c.poller.Poll(ctx, false); err != nil {
		c.log.Warn("initial event poll failed: ", err)
	}
	go c.pollLoop(sessionCtx)
	return nil
}

// Disconnect ends the remote control session. Local state is only cleared
// when the camera acknowledged stopRecMode. A Connect still in progress fails
// with ErrConnectAborted.
func (c *Camera) Disconnect(ctx context.Context) error {
	if _, err := c.transport.Call(ctx, "stopRecMode"); err != nil {
		return err
	}
	c.timers.stopAll()
	c.sessionMux.Lock()
	c.state.SetTargetState(internal.SessionStateDisconnected)
	// CONNECTING is left to the running Connect, which resets it when it aborts
	c.state.CompareAndSetCurrentState(internal.SessionStateDisconnected, internal.SessionStateConnected)
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	c.sessionMux.Unlock()
	c.log.Info("disconnected")
	return nil
}

// beginSession moves CONNECTING to CONNECTED and returns the context of the
// new session. It fails when a Disconnect changed the target meanwhile.
func (c *Camera) beginSession() (context.Context, bool) {
	c.sessionMux.Lock()
	defer c.sessionMux.Unlock()
	if c.state.TargetState() != internal.SessionStateConnected {
		return nil, false
	}
	if _, ok := c.state.CompareAndSetCurrentState(internal.SessionStateConnected, internal.SessionStateConnecting); !ok {
		return nil, false
	}
	if c.sessionCancel != nil {
		c.sessionCancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.sessionCancel = cancel
	return ctx, true
}

func (c *Camera) endSession() {
	c.sessionMux.Lock()
	defer c.sessionMux.Unlock()
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
}

// pollLoop long-polls events until the session ends. Failures are retried
// after RetryInterval without touching the session state.
func (c *Camera) pollLoop(ctx context.Context) {
	for ctx.Err() == nil {
		err := c.poller.Poll(ctx, true)
		if err == nil || ctx.Err() != nil {
			continue
		}
		c.log.Warnf("event poll failed, retrying in %s: %v", c.config.RetryInterval, err)
		select {
		case <-ctx.Done():
		case <-time.After(c.config.RetryInterval):
		}
	}
	c.log.Debug("event loop terminated")
}

// sessionLost runs when the camera reports NotReady: the camera dropped the
// session on its side, so polling stops and a reconnect is scheduled.
func (c *Camera) sessionLost() {
	if _, ok := c.state.CompareAndSetCurrentState(internal.SessionStateDisconnected, internal.SessionStateConnected); !ok {
		return
	}
	c.log.Warn("camera is not ready, session closed by the camera")
	c.endSession()
	c.scheduleReconnect()
}

func (c *Camera) scheduleReconnect() {
	c.timers.after(c.config.ReconnectDelay, func() {
		if c.ctx.Err() != nil || c.state.TargetState() != internal.SessionStateConnected {
			return
		}
		err := c.Connect(c.ctx)
		if err == nil || errors.Is(err, ErrAlreadyConnecting) || errors.Is(err, ErrConnectAborted) {
			return
		}
		var mismatch *VersionMismatchError
		if errors.As(err, &mismatch) {
			c.log.Error(err)
			return
		}
		c.log.Warnf("reconnect failed, retrying in %s: %v", c.config.ReconnectDelay, err)
		c.scheduleReconnect()
	})
}

// checkVersion fails with VersionMismatchError when detected < required.
// Camera versions like "2.1" are padded to full semantic versions.
func checkVersion(detected, required string) error {
	d, err := semver.NewVersion(padVersion(detected))
	if err != nil {
		return errors.Wrapf(err, "unparsable app version %q", detected)
	}
	r, err := semver.NewVersion(padVersion(required))
	if err != nil {
		return errors.Wrapf(err, "unparsable minimum app version %q", required)
	}
	if d.LessThan(*r) {
		return &VersionMismatchError{Detected: detected, Required: required}
	}
	return nil
}

func padVersion(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	for strings.Count(v, ".") < 2 {
		v += ".0"
	}
	return v
}

// timerSet owns the delayed tasks of a camera so they can all be cancelled at once.
type timerSet struct {
	mux     sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

func newTimerSet() *timerSet {
	return &timerSet{timers: map[*time.Timer]struct{}{}}
}

func (ts *timerSet) after(d time.Duration, f func()) {
	ts.mux.Lock()
	defer ts.mux.Unlock()
	if ts.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		ts.mux.Lock()
		_, pending := ts.timers[t]
		delete(ts.timers, t)
		ts.mux.Unlock()
		if pending {
			f()
		}
	})
	ts.timers[t] = struct{}{}
}

// stopAll cancels every pending task.
func (ts *timerSet) stopAll() {
	ts.mux.Lock()
	defer ts.mux.Unlock()
	for t := range ts.timers {
		t.Stop()
	}
	ts.timers = map[*time.Timer]struct{}{}
}

// shutdown cancels every pending task and refuses new ones.
func (ts *timerSet) shutdown() {
	ts.stopAll()
	ts.mux.Lock()
	ts.stopped = true
	ts.mux.Unlock()
}
