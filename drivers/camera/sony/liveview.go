package sony

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/cognitedata/edge-camera-remote/internal"
	"github.com/cognitedata/edge-camera-remote/pkg/liveview"
	"github.com/pkg/errors"
)

// StartViewfinder asks the camera for its liveview stream and starts
// publishing every received JPEG on TopicLiveviewJPEG. A running stream is
// replaced.
func (c *Camera) StartViewfinder(ctx context.Context) error {
	if c.state.CurrentState() != internal.SessionStateConnected {
		return ErrNotConnected
	}
	raw, err := c.transport.Call(ctx, "startLiveview")
	if err != nil {
		return err
	}
	var urls []string
	if err := json.Unmarshal(raw, &urls); err != nil {
		return errors.Wrap(err, "malformed startLiveview result")
	}
	if len(urls) == 0 || urls[0] == "" {
		return errors.New("camera did not return a liveview url")
	}

	c.stopLiveview()
	streamCtx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.liveviewMux.Lock()
	c.liveviewCancel = cancel
	c.liveviewDone = done
	c.liveviewMux.Unlock()

	go c.streamLiveview(streamCtx, urls[0], done)
	return nil
}

// StopViewfinder stops the local stream and asks the camera to end liveview.
func (c *Camera) StopViewfinder(ctx context.Context) error {
	c.stopLiveview()
	_, err := c.transport.Call(ctx, "stopLiveview")
	return err
}

func (c *Camera) stopLiveview() {
	c.liveviewMux.Lock()
	cancel, done := c.liveviewCancel, c.liveviewDone
	c.liveviewCancel, c.liveviewDone = nil, nil
	c.liveviewMux.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Camera) streamLiveview(ctx context.Context, url string, done chan struct{}) {
	defer close(done)
	logger := c.log.WithField("liveview", url)

	resp, err := c.transport.get(ctx, url)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("liveview request failed: ", err)
		}
		return
	}
	// the digest round tripper ignores the request context
	stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
	defer stop()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Errorf("liveview returned status %d", resp.StatusCode)
		return
	}
	logger.Info("liveview started")

	frames := liveview.NewReader(resp.Body)
	for {
		frame, err := frames.Next()
		if err == nil {
			c.publish(Notification{Topic: TopicLiveviewJPEG, JPEG: frame.JPEG})
			continue
		}
		switch {
		case ctx.Err() != nil:
			logger.Info("liveview stopped")
		case err == io.EOF:
			logger.Info("liveview stream ended by the camera")
		default:
			logger.Error("liveview stream failed: ", err)
		}
		return
	}
}
