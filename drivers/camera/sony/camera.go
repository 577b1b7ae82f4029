// Package sony is a client for the JSON-RPC remote control API of Sony cameras
// (the "Smart Remote Control" application).
//
// A Camera keeps one remote-control session with the device. After Connect it
// long-polls getEvent in the background and mirrors the camera status,
// settable parameters and available operations. Changes are published as
// Notifications which consumers receive through Subscribe.
package sony

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cognitedata/edge-camera-remote/drivers/camera"
	"github.com/cognitedata/edge-camera-remote/internal"
	"github.com/cognitedata/edge-camera-remote/pkg/eventbus"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Notification topics.
const (
	TopicStatus       = "status"
	TopicUpdate       = "update"
	TopicLiveviewJPEG = "liveviewJpeg"
	TopicDisconnected = "disconnected"
)

var AllTopics = []string{TopicStatus, TopicUpdate, TopicLiveviewJPEG, TopicDisconnected}

// Notification is published on the camera's bus. Which fields are set depends on Topic.
type Notification struct {
	Topic     string
	Timestamp int64
	Status    string     // TopicStatus
	Parameter *Parameter // TopicUpdate
	JPEG      []byte     // TopicLiveviewJPEG
	Err       error      // TopicDisconnected
}

type Camera struct {
	config    Config
	transport *Transport
	store     *ParameterStore
	poller    *EventPoller
	bus       *eventbus.Bus[Notification]
	state     *internal.StateTracker
	timers    *timerSet

	// ctx lives until Close
	ctx    context.Context
	cancel context.CancelFunc

	sessionMux    sync.Mutex
	sessionCancel context.CancelFunc

	liveviewMux    sync.Mutex
	liveviewCancel context.CancelFunc
	liveviewDone   chan struct{}

	log *log.Entry
}

var _ camera.Driver = (*Camera)(nil)

func New(config Config) *Camera {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Camera{
		config: config,
		store:  NewParameterStore(),
		bus:    eventbus.New[Notification](64, TopicLiveviewJPEG),
		state:  internal.NewStateTracker(internal.SessionStateDisconnected),
		timers: newTimerSet(),
		ctx:    ctx,
		cancel: cancel,
		log:    log.WithField("camera", config.Endpoint()),
	}
	c.transport = NewTransport(config, func(err error) {
		c.publish(Notification{Topic: TopicDisconnected, Err: err})
	})
	c.poller = NewEventPoller(c.transport, c.store, c.publish, c.sessionLost)
	return c
}

func (c *Camera) String() string {
	return c.config.Endpoint()
}

// Subscribe returns a channel receiving notifications for the given topics,
// or for all topics when none are given.
func (c *Camera) Subscribe(topics ...string) chan Notification {
	if len(topics) == 0 {
		topics = AllTopics
	}
	return c.bus.Sub(topics...)
}

func (c *Camera) Unsubscribe(ch chan Notification) {
	c.bus.Unsub(ch)
}

func (c *Camera) publish(n Notification) {
	n.Timestamp = time.Now().UnixNano()
	c.bus.Publish(n.Topic, n)
}

// State returns the session state, one of internal.SessionState*.
func (c *Camera) State() string {
	return c.state.CurrentState()
}

func (c *Camera) Status() string {
	return c.store.Status()
}

func (c *Camera) Parameter(name string) (Parameter, bool) {
	return c.store.Parameter(name)
}

func (c *Camera) Parameters() map[string]Parameter {
	return c.store.Parameters()
}

func (c *Camera) AvailableAPIs() []string {
	return c.store.AvailableAPIs()
}

func (c *Camera) PhotosRemaining() int {
	return c.store.PhotosRemaining()
}

// GetAppVersion asks the camera for the version of its remote control application.
func (c *Camera) GetAppVersion(ctx context.Context) (string, error) {
	raw, err := c.transport.Call(ctx, "getApplicationInfo")
	if err != nil {
		return "", err
	}
	var info []any
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", errors.Wrap(err, "malformed getApplicationInfo result")
	}
	if len(info) < 2 {
		return "", errors.New("camera did not report an application version")
	}
	version, ok := info[1].(string)
	if !ok || version == "" {
		return "", errors.Errorf("unexpected application version %v", info[1])
	}
	return version, nil
}

func (c *Camera) ZoomIn(ctx context.Context) error {
	_, err := c.transport.Call(ctx, "actZoom", "in", "start")
	return err
}

func (c *Camera) ZoomOut(ctx context.Context) error {
	_, err := c.transport.Call(ctx, "actZoom", "out", "start")
	return err
}

// Set changes parameter name to value through the matching set<Name> call.
// The request is only sent when the camera is idle, currently offers the
// operation and lists value among the parameter's available values.
func (c *Camera) Set(ctx context.Context, name string, value any) error {
	if c.store.Status() != StatusIdle {
		return ErrNotReady
	}
	action := "set" + capitalize(name)
	param, known := c.store.Parameter(name)
	if !known || !c.store.HasAPI(action) {
		return errors.Wrap(ErrParamNotAvailable, name)
	}
	value = normalizeValue(value)
	if !param.Accepts(value) {
		return errors.Wrap(ErrValueNotAvailable, fmt.Sprintf("%s=%v", name, value))
	}
	_, err := c.transport.Call(ctx, action, value)
	return err
}

// ExtractImage takes a picture and returns it.
func (c *Camera) ExtractImage(ctx context.Context) (*camera.Image, error) {
	return c.Capture(ctx, nil)
}

// Ping reports whether the camera answers RPC calls.
func (c *Camera) Ping(ctx context.Context) bool {
	_, err := c.GetAppVersion(ctx)
	return err == nil
}

// Close stops polling, pending reconnects and the liveview stream, and closes
// every subscriber channel. It doesn't end the session on the camera; call
// Disconnect first for that.
func (c *Camera) Close() {
	c.timers.shutdown()
	c.endSession()
	c.stopLiveview()
	c.cancel()
	c.bus.Shutdown()
}
