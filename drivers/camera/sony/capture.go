package sony

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cognitedata/edge-camera-remote/drivers/camera"
	"github.com/pkg/errors"
)

// Capture takes a picture and downloads it. onName, if set, receives the
// photo name as soon as the camera reports it, before the download starts.
// The camera must be idle.
func (c *Camera) Capture(ctx context.Context, onName func(photoName string)) (*camera.Image, error) {
	if c.store.Status() != StatusIdle {
		return nil, ErrNotReady
	}

	raw, err := c.transport.Call(ctx, "actTakePicture")
	for IsRPCError(err, CodeStillCapturing) {
		c.log.Debug("capture still in progress")
		raw, err = c.transport.Call(ctx, "awaitTakePicture")
	}
	if err != nil {
		return nil, err
	}

	url, err := captureURL(raw)
	if err != nil {
		return nil, err
	}
	name := photoName(url)
	c.log.Info("captured ", name)
	if onName != nil {
		onName(name)
	}

	body, err := c.download(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "downloading %s", name)
	}
	return &camera.Image{Body: body, Format: "image/jpeg", Name: name}, nil
}

func captureURL(raw json.RawMessage) (string, error) {
	var result [][]string
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", errors.Wrap(err, "malformed actTakePicture result")
	}
	if len(result) == 0 || len(result[0]) == 0 || result[0][0] == "" {
		return "", errors.New("camera did not return an image url")
	}
	return result[0][0], nil
}

// photoName is the last path segment of url without its query.
func photoName(url string) string {
	url, _, _ = strings.Cut(url, "?")
	return url[strings.LastIndex(url, "/")+1:]
}

func (c *Camera) download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()
	resp, err := c.transport.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("camera returned status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "image/jpeg") {
		return nil, errors.Errorf("unexpected content type %q", ct)
	}
	return io.ReadAll(resp.Body)
}
