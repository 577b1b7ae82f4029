package sony

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"
)

// rpcHandler answers one call. A non-nil rpcErr is sent as the error array.
type rpcHandler func(params []any) (result any, rpcErr []any)

// fakeDevice emulates the camera's control endpoint, image downloads and the
// liveview stream on one httptest server.
type fakeDevice struct {
	t      *testing.T
	server *httptest.Server

	// serial runs handlers one at a time so they may keep plain state
	serial sync.Mutex

	mux        sync.Mutex
	calls      []string
	handlers   map[string]rpcHandler
	concurrent map[string]bool
	events     [][]any
	images     map[string][]byte
	liveview   []byte
}

func newFakeDevice(t *testing.T, appVersion string) *fakeDevice {
	d := &fakeDevice{
		t:          t,
		images:     map[string][]byte{},
		concurrent: map[string]bool{},
	}
	ok := func([]any) (any, []any) { return []any{0}, nil }
	d.handlers = map[string]rpcHandler{
		"getApplicationInfo": func([]any) (any, []any) {
			return []any{"Smart Remote Control", appVersion}, nil
		},
		"startRecMode": ok,
		"stopRecMode":  ok,
		"stopLiveview": ok,
		"actZoom":      ok,
		"getEvent":     d.nextEvent,
		"startLiveview": func([]any) (any, []any) {
			return []any{d.server.URL + "/liveview"}, nil
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sony/camera", d.serveRPC)
	mux.HandleFunc("/liveview", d.serveLiveview)
	mux.HandleFunc("/", d.serveImage)
	d.server = httptest.NewServer(mux)
	t.Cleanup(d.server.Close)
	return d
}

func (d *fakeDevice) config() Config {
	u, err := url.Parse(d.server.URL)
	if err != nil {
		d.t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		d.t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return Config{
		Host:           host,
		Port:           port,
		Path:           "/sony/camera",
		ProbeTimeout:   time.Second,
		CallTimeout:    2 * time.Second,
		RetryInterval:  50 * time.Millisecond,
		ReconnectDelay: 50 * time.Millisecond,
	}
}

func (d *fakeDevice) handle(method string, h rpcHandler) {
	d.mux.Lock()
	d.handlers[method] = h
	d.mux.Unlock()
}

// handleConcurrently installs h outside of the serial section so other calls
// are answered while h blocks.
func (d *fakeDevice) handleConcurrently(method string, h rpcHandler) {
	d.mux.Lock()
	d.handlers[method] = h
	d.concurrent[method] = true
	d.mux.Unlock()
}

func (d *fakeDevice) setImage(path string, body []byte) {
	d.mux.Lock()
	d.images[path] = body
	d.mux.Unlock()
}

func (d *fakeDevice) setLiveview(stream []byte) {
	d.mux.Lock()
	d.liveview = stream
	d.mux.Unlock()
}

// queueEvents appends a getEvent result served to the next poll.
func (d *fakeDevice) queueEvents(items ...any) {
	d.mux.Lock()
	d.events = append(d.events, items)
	d.mux.Unlock()
}

func (d *fakeDevice) nextEvent(params []any) (any, []any) {
	d.mux.Lock()
	if len(d.events) > 0 {
		ev := d.events[0]
		d.events = d.events[1:]
		d.mux.Unlock()
		return ev, nil
	}
	d.mux.Unlock()

	if len(params) > 0 && params[0] == true {
		time.Sleep(10 * time.Millisecond)
		return nil, []any{CodeNoChange, "no change"}
	}
	return []any{}, nil
}

func (d *fakeDevice) callCount(method string) int {
	d.mux.Lock()
	defer d.mux.Unlock()
	n := 0
	for _, m := range d.calls {
		if m == method {
			n++
		}
	}
	return n
}

func (d *fakeDevice) totalCalls() int {
	d.mux.Lock()
	defer d.mux.Unlock()
	return len(d.calls)
}

func (d *fakeDevice) serveRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID != rpcRequestID || req.Version != rpcVersion {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}

	d.mux.Lock()
	d.calls = append(d.calls, req.Method)
	h, ok := d.handlers[req.Method]
	concurrent := d.concurrent[req.Method]
	d.mux.Unlock()

	resp := map[string]any{"id": req.ID}
	if !ok {
		resp["error"] = []any{12, "No Such Method"}
	} else if result, rpcErr := d.invoke(h, req.Params, concurrent); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (d *fakeDevice) invoke(h rpcHandler, params []any, concurrent bool) (any, []any) {
	if concurrent {
		return h(params)
	}
	d.serial.Lock()
	defer d.serial.Unlock()
	return h(params)
}

func (d *fakeDevice) serveImage(w http.ResponseWriter, r *http.Request) {
	d.mux.Lock()
	body, ok := d.images[r.URL.Path]
	d.mux.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(body)
}

func (d *fakeDevice) serveLiveview(w http.ResponseWriter, r *http.Request) {
	d.mux.Lock()
	stream := d.liveview
	d.mux.Unlock()
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(stream)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
}

func statusEvent(status string) map[string]any {
	return map[string]any{"type": "cameraStatus", "cameraStatus": status}
}

func apiListEvent(names ...string) map[string]any {
	return map[string]any{"type": "availableApiList", "names": names}
}

func paramEvent(name string, current any, candidates ...any) map[string]any {
	ev := map[string]any{"type": name, name + "Candidates": candidates}
	ev["current"+capitalize(name)] = current
	return ev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func receive(t *testing.T, ch chan Notification) Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatal("notification channel closed")
		}
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return Notification{}
}

func expectSilence(t *testing.T, ch chan Notification, d time.Duration) {
	t.Helper()
	select {
	case n := <-ch:
		t.Fatalf("unexpected %s notification", n.Topic)
	case <-time.After(d):
	}
}
