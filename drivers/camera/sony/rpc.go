package sony

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	dac "github.com/xinsnake/go-http-digest-auth-client"
	"golang.org/x/time/rate"
)

const (
	rpcVersion   = "1.0"
	rpcRequestID = 1

	methodGetEvent = "getEvent"
)

// Methods answered immediately by the camera; they get the short probe timeout.
var probeMethods = map[string]bool{
	"getApplicationInfo": true,
	"getVersions":        true,
	"getMethodTypes":     true,
}

type Request struct {
	ID      int    `json:"id"`
	Version string `json:"version"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type Response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  []any           `json:"error,omitempty"`
}

// Transport performs one JSON-RPC call per Call over HTTP POST.
type Transport struct {
	endpoint     string
	probeTimeout time.Duration
	callTimeout  time.Duration
	roundTripper http.RoundTripper
	onDisconnect func(error)
	noChange     *rate.Limiter
	log          *log.Entry
}

// NewTransport creates a transport for cfg. onDisconnect, if set, is called
// whenever a call fails at the network level.
func NewTransport(cfg Config, onDisconnect func(error)) *Transport {
	cfg = cfg.withDefaults()
	var rt http.RoundTripper
	if cfg.Username != "" {
		t := dac.NewTransport(cfg.Username, cfg.Password)
		t.HTTPClient = &http.Client{}
		rt = &t
	} else {
		rt = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:    10,
			IdleConnTimeout: 90 * time.Second,
		}
	}
	return &Transport{
		endpoint:     cfg.Endpoint(),
		probeTimeout: cfg.ProbeTimeout,
		callTimeout:  cfg.CallTimeout,
		roundTripper: rt,
		onDisconnect: onDisconnect,
		noChange:     rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		log:          log.WithField("camera", cfg.Endpoint()),
	}
}

// Call invokes method and returns the raw result. A getEvent long poll that
// ends with "no change" is reissued until something changes, so callers only
// ever see real results.
func (t *Transport) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	for {
		result, err := t.call(ctx, method, params)
		if method == methodGetEvent && IsRPCError(err, CodeNoChange) {
			if werr := t.noChange.Wait(ctx); werr != nil {
				return nil, werr
			}
			continue
		}
		if err != nil && !IsRPCError(err, CodeStillCapturing) {
			t.log.Debugf("error during request %s: %v", method, err)
		}
		return result, err
	}
}

func (t *Transport) timeout(method string) time.Duration {
	if probeMethods[method] {
		return t.probeTimeout
	}
	return t.callTimeout
}

func (t *Transport) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	body, err := json.Marshal(Request{ID: rpcRequestID, Version: rpcVersion, Method: method, Params: params})
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s request", method)
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout(method))
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	status, respBody, err := t.exchange(callCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			// cancelled by the caller, not a connectivity problem
			return nil, ctx.Err()
		}
		terr := &TransportError{Method: method, Err: err}
		var netErr net.Error
		if callCtx.Err() == context.DeadlineExceeded || (errors.As(err, &netErr) && netErr.Timeout()) {
			terr.Timeout = true
		}
		t.log.Warnf("camera unreachable: %v", terr)
		if t.onDisconnect != nil {
			t.onDisconnect(terr)
		}
		return nil, terr
	}
	if status != http.StatusOK {
		return nil, errors.Errorf("%s: camera api returned error code %d", method, status)
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errors.Wrapf(err, "decoding %s response", method)
	}
	if resp.Error != nil {
		return nil, newRPCError(method, resp.Error)
	}
	return resp.Result, nil
}

// exchange runs the round trip and reads the whole body in its own goroutine
// so the deadline holds even for round trippers that drop the request context.
func (t *Transport) exchange(ctx context.Context, req *http.Request) (int, []byte, error) {
	type result struct {
		status int
		body   []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.roundTripper.RoundTrip(req)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		done <- result{status: resp.StatusCode, body: body, err: err}
	}()

	select {
	case r := <-done:
		return r.status, r.body, r.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func newRPCError(method string, raw []any) *RPCError {
	rpcErr := &RPCError{Method: method, Code: -1}
	if len(raw) == 0 {
		return rpcErr
	}
	if code, ok := raw[0].(float64); ok {
		rpcErr.Code = int(code)
	}
	rpcErr.Details = raw[1:]
	return rpcErr
}

// get fetches url with the transport's credentials. It's used for image
// downloads, which are plain GETs outside the RPC envelope.
func (t *Transport) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return t.roundTripper.RoundTrip(req)
}
