// Package remote_control exposes a camera to browsers over WebSocket. Camera
// notifications are relayed to every connected client and clients send
// commands (capture, viewfinder, zoom, set) back.
package remote_control

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cognitedata/edge-camera-remote/drivers/camera"
	"github.com/cognitedata/edge-camera-remote/drivers/camera/sony"
	"github.com/cognitedata/edge-camera-remote/integrations"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientQueueLen = 16
)

// Events sent to clients.
const (
	EventParams       = "params"
	EventUpdate       = "update"
	EventImage        = "image"
	EventStatus       = "status"
	EventCameraStatus = "cameraStatus"
)

// Camera is the part of *sony.Camera the relay drives.
type Camera interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(topics ...string) chan sony.Notification
	Unsubscribe(ch chan sony.Notification)
	Parameters() map[string]sony.Parameter
	Capture(ctx context.Context, onName func(photoName string)) (*camera.Image, error)
	StartViewfinder(ctx context.Context) error
	StopViewfinder(ctx context.Context) error
	Set(ctx context.Context, name string, value any) error
	ZoomIn(ctx context.Context) error
	ZoomOut(ctx context.Context) error
}

// Message is what clients receive. Event selects which other fields are set.
type Message struct {
	Event  string                    `json:"event"`
	Param  string                    `json:"param,omitempty"`
	Value  *sony.Parameter           `json:"value,omitempty"`
	Params map[string]sony.Parameter `json:"params,omitempty"`
	Image  string                    `json:"image,omitempty"` // base64 JPEG
	Status string                    `json:"status,omitempty"`
}

// Command is what clients send.
type Command struct {
	Command string `json:"command"`
	Param   string `json:"param,omitempty"`
	Value   any    `json:"value,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

type RemoteControl struct {
	*integrations.BaseIntegration
	config   Config
	camera   Camera
	upgrader websocket.Upgrader

	clientsMux sync.Mutex
	clients    map[*client]struct{}

	log *log.Entry
}

func NewRemoteControl(config Config, cam Camera) *RemoteControl {
	if config.ConnectRetry <= 0 {
		config.ConnectRetry = 5 * time.Second
	}
	return &RemoteControl{
		BaseIntegration: integrations.NewIntegration("remote_control"),
		config:          config,
		camera:          cam,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
		log:     log.WithField("integration", "remote_control"),
	}
}

func (rc *RemoteControl) Start() error {
	return rc.Run(rc.run)
}

// Handler serves the WebSocket endpoint on /ws and a parameter snapshot on /params.
func (rc *RemoteControl) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", rc.handleWebSocket)
	mux.HandleFunc("/params", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rc.camera.Parameters())
	})
	return mux
}

func (rc *RemoteControl) run(ctx context.Context) error {
	// subscribed before connecting so the first status of the session is relayed
	notifications := rc.camera.Subscribe()
	defer rc.camera.Unsubscribe(notifications)

	g, ctx := errgroup.WithContext(ctx)
	server := &http.Server{Addr: rc.config.ListenAddr, Handler: rc.Handler()}

	g.Go(func() error {
		rc.log.Infof("listening on %s", rc.config.ListenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return rc.relay(ctx, notifications)
	})
	g.Go(func() error {
		return rc.connect(ctx)
	})

	err := g.Wait()
	rc.closeClients()
	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if derr := rc.camera.Disconnect(disconnectCtx); derr != nil {
		rc.log.Debug("disconnect on shutdown failed: ", derr)
	}
	return err
}

// connect retries until the camera session is up. An incompatible camera
// application is reported and not retried.
func (rc *RemoteControl) connect(ctx context.Context) error {
	for {
		err := rc.camera.Connect(ctx)
		if err == nil {
			break
		}
		var mismatch *sony.VersionMismatchError
		if errors.As(err, &mismatch) {
			rc.log.Error(err)
			rc.broadcast(Message{Event: EventStatus, Status: "Error: " + err.Error()})
			return nil
		}
		rc.log.Warnf("camera connection failed, retrying in %s: %v", rc.config.ConnectRetry, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(rc.config.ConnectRetry):
		}
	}
	rc.log.Info("camera connected")
	if rc.config.AutoStartViewfinder {
		if err := rc.camera.StartViewfinder(ctx); err != nil {
			rc.log.Error("failed to start viewfinder: ", err)
		}
	}
	return nil
}

// relay forwards camera notifications to all clients until ctx is done.
func (rc *RemoteControl) relay(ctx context.Context, notifications chan sony.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			switch n.Topic {
			case sony.TopicUpdate:
				if n.Parameter == nil {
					continue
				}
				rc.broadcast(Message{Event: EventUpdate, Param: n.Parameter.Name, Value: n.Parameter})
			case sony.TopicLiveviewJPEG:
				rc.broadcast(Message{Event: EventImage, Image: base64.StdEncoding.EncodeToString(n.JPEG)})
			case sony.TopicStatus:
				rc.broadcast(Message{Event: EventCameraStatus, Status: n.Status})
			case sony.TopicDisconnected:
				rc.broadcast(Message{Event: EventStatus, Status: fmt.Sprintf("Error: %v", n.Err)})
			}
		}
	}
}

// broadcast queues msg for every client. Clients that can't keep up lose messages.
func (rc *RemoteControl) broadcast(msg Message) {
	rc.clientsMux.Lock()
	defer rc.clientsMux.Unlock()
	for c := range rc.clients {
		select {
		case c.send <- msg:
		default:
			rc.log.Debugf("client %s is slow, dropping %s message", c.conn.RemoteAddr(), msg.Event)
		}
	}
}

func (rc *RemoteControl) closeClients() {
	rc.clientsMux.Lock()
	defer rc.clientsMux.Unlock()
	for c := range rc.clients {
		c.conn.Close()
	}
}

func (rc *RemoteControl) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := rc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rc.log.Error("error upgrading websocket connection: ", err)
		return
	}
	rc.log.Info("websocket connection established from ", r.RemoteAddr)

	c := &client{conn: conn, send: make(chan Message, clientQueueLen)}
	c.send <- Message{Event: EventParams, Params: rc.camera.Parameters()}
	rc.clientsMux.Lock()
	rc.clients[c] = struct{}{}
	rc.clientsMux.Unlock()

	done := make(chan struct{})
	go rc.writeLoop(c, done)
	defer func() {
		rc.clientsMux.Lock()
		delete(rc.clients, c)
		rc.clientsMux.Unlock()
		close(done)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				rc.log.Warn("error reading from websocket: ", err)
			}
			return
		}
		rc.execute(r.Context(), c, cmd)
	}
}

// writeLoop is the only writer of c.conn.
func (rc *RemoteControl) writeLoop(c *client, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				rc.log.Debug("error writing to websocket: ", err)
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (rc *RemoteControl) execute(ctx context.Context, c *client, cmd Command) {
	rc.log.Debugf("command %s", cmd.Command)
	var err error
	switch cmd.Command {
	case "capture":
		err = rc.capture(ctx)
	case "startViewfinder":
		err = rc.camera.StartViewfinder(ctx)
	case "stopViewfinder":
		err = rc.camera.StopViewfinder(ctx)
	case "set":
		err = rc.camera.Set(ctx, cmd.Param, cmd.Value)
	case "zoomIn":
		err = rc.camera.ZoomIn(ctx)
	case "zoomOut":
		err = rc.camera.ZoomOut(ctx)
	default:
		err = fmt.Errorf("unknown command %q", cmd.Command)
	}
	if err != nil {
		rc.log.Warnf("command %s failed: %v", cmd.Command, err)
		select {
		case c.send <- Message{Event: EventStatus, Status: "Error: " + err.Error()}:
		default:
		}
	}
}

// capture announces the photo name as soon as it is known, then sends the
// image to every client and saves it when ImageDir is set.
func (rc *RemoteControl) capture(ctx context.Context) error {
	img, err := rc.camera.Capture(ctx, func(name string) {
		rc.broadcast(Message{Event: EventStatus, Status: "new photo: " + name})
	})
	if err != nil {
		return err
	}
	rc.broadcast(Message{Event: EventImage, Image: base64.StdEncoding.EncodeToString(img.Body)})
	if rc.config.ImageDir == "" {
		return nil
	}
	path := filepath.Join(rc.config.ImageDir, filepath.Base(img.Name))
	if err := os.WriteFile(path, img.Body, 0644); err != nil {
		return errors.Wrap(err, "saving image")
	}
	rc.log.Infof("image saved to %s", path)
	return nil
}
