package sony

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
)

// scriptedCaller answers getEvent with prepared raw results, in order.
type scriptedCaller struct {
	results []string
	params  [][]any
}

func (s *scriptedCaller) Call(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	s.params = append(s.params, params)
	if len(s.results) == 0 {
		return json.RawMessage(`[]`), nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return json.RawMessage(r), nil
}

type pollerFixture struct {
	caller   *scriptedCaller
	store    *ParameterStore
	poller   *EventPoller
	notes    []Notification
	notReady int
}

func newPollerFixture(results ...string) *pollerFixture {
	f := &pollerFixture{caller: &scriptedCaller{results: results}, store: NewParameterStore()}
	f.poller = NewEventPoller(f.caller, f.store,
		func(n Notification) { f.notes = append(f.notes, n) },
		func() { f.notReady++ })
	return f
}

func (f *pollerFixture) poll(t *testing.T) {
	t.Helper()
	if err := f.poller.Poll(context.Background(), true); err != nil {
		t.Fatal(err)
	}
}

func (f *pollerFixture) topics() []string {
	var out []string
	for _, n := range f.notes {
		out = append(out, n.Topic)
	}
	return out
}

const exposureBatch = `[null, {"type":"exposureMode","currentExposureMode":"Intelligent Auto","exposureModeCandidates":["Intelligent Auto","Superior Auto"]}]`

func TestPollSendsWaitFlag(t *testing.T) {
	f := newPollerFixture()
	if err := f.poller.Poll(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	f.poll(t)
	if !reflect.DeepEqual(f.caller.params, [][]any{{false}, {true}}) {
		t.Fatalf("unexpected params %v", f.caller.params)
	}
}

func TestParameterUpdateNotifiedOnChangeOnly(t *testing.T) {
	f := newPollerFixture(
		exposureBatch,
		exposureBatch,
		`[{"type":"exposureMode","currentExposureMode":"Superior Auto","exposureModeCandidates":["Intelligent Auto","Superior Auto"]}]`,
	)

	f.poll(t)
	if len(f.notes) != 1 || f.notes[0].Topic != TopicUpdate {
		t.Fatalf("expect one update, got %v", f.topics())
	}
	p := f.notes[0].Parameter
	if p.Name != "exposureMode" || p.Current != "Intelligent Auto" {
		t.Fatalf("unexpected parameter %+v", p)
	}
	if !reflect.DeepEqual(p.Available, []any{"Intelligent Auto", "Superior Auto"}) {
		t.Fatalf("unexpected available values %v", p.Available)
	}

	f.poll(t)
	if len(f.notes) != 1 {
		t.Fatalf("unchanged value must not notify, got %v", f.topics())
	}

	f.poll(t)
	if len(f.notes) != 2 || f.notes[1].Parameter.Current != "Superior Auto" {
		t.Fatalf("expect a second update, got %v", f.topics())
	}
	stored, _ := f.store.Parameter("exposureMode")
	if stored.Current != "Superior Auto" {
		t.Fatalf("store not updated: %+v", stored)
	}
}

func TestCurrentValueIsAlwaysAvailable(t *testing.T) {
	f := newPollerFixture(`[{"type":"zoom","currentZoom":"wide","zoomCandidates":["in","out"]}]`)
	f.poll(t)
	p, ok := f.store.Parameter("zoom")
	if !ok {
		t.Fatal("zoom not stored")
	}
	if !p.Accepts("wide") {
		t.Fatalf("current value missing from %v", p.Available)
	}
}

func TestStatusNotifiedOnChangeOnly(t *testing.T) {
	status := `[{"type":"cameraStatus","cameraStatus":"IDLE"}]`
	f := newPollerFixture(status, status, `[{"type":"cameraStatus","cameraStatus":"StillCapturing"}]`)

	f.poll(t)
	f.poll(t)
	f.poll(t)
	if !reflect.DeepEqual(f.topics(), []string{TopicStatus, TopicStatus}) {
		t.Fatalf("unexpected notifications %v", f.topics())
	}
	if f.notes[0].Status != StatusIdle || f.notes[1].Status != "StillCapturing" {
		t.Fatalf("unexpected statuses %+v", f.notes)
	}
	if f.store.Status() != "StillCapturing" {
		t.Fatalf("store has %s", f.store.Status())
	}
}

func TestNotReadyCallsHook(t *testing.T) {
	f := newPollerFixture(`[{"type":"cameraStatus","cameraStatus":"NotReady"}]`)
	f.poll(t)
	if f.notReady != 1 {
		t.Fatalf("expect the NotReady hook once, got %d", f.notReady)
	}
}

func TestMalformedItemsAreSkipped(t *testing.T) {
	f := newPollerFixture(`[
		null,
		[],
		[null],
		42,
		"text",
		{"noType": true},
		{"type":"somethingElse","value":1},
		{"type":"flashMode","currentFlashMode":"off","flashModeCandidates":"not a list"},
		{"type":"cameraStatus","cameraStatus":{"nested":true}},
		{"type":"isoSpeedRate","currentIsoSpeedRate":"100","isoSpeedRateCandidates":["100","200"]}
	]`)
	f.poll(t)

	if !reflect.DeepEqual(f.topics(), []string{TopicUpdate}) {
		t.Fatalf("expect only the iso update, got %v", f.topics())
	}
	if _, ok := f.store.Parameter("flashMode"); ok {
		t.Fatal("malformed parameter must not be stored")
	}
	if f.store.Status() != StatusUnknown {
		t.Fatalf("malformed status must be ignored, got %s", f.store.Status())
	}
}

func TestNonArrayResultIsAnError(t *testing.T) {
	f := newPollerFixture(`{"type":"cameraStatus"}`)
	if err := f.poller.Poll(context.Background(), true); err == nil {
		t.Fatal("expect an error for a non-array result")
	}
}

func TestStorageAndAPIListDecoding(t *testing.T) {
	f := newPollerFixture(`[
		{"type":"availableApiList","names":["getEvent","actTakePicture","setExposureMode"]},
		[{"type":"storageInformation","recordTarget":false,"numberOfRecordableImages":5},
		 {"type":"storageInformation","recordTarget":true,"numberOfRecordableImages":312}]
	]`)
	f.poll(t)

	if got := f.store.PhotosRemaining(); got != 312 {
		t.Fatalf("expect 312 photos remaining, got %d", got)
	}
	if !f.store.HasAPI("setExposureMode") || f.store.HasAPI("setIsoSpeedRate") {
		t.Fatalf("unexpected api list %v", f.store.AvailableAPIs())
	}
	want := []string{"actTakePicture", "getEvent", "setExposureMode"}
	if !reflect.DeepEqual(f.store.AvailableAPIs(), want) {
		t.Fatalf("expect %v, got %v", want, f.store.AvailableAPIs())
	}
	if len(f.notes) != 0 {
		t.Fatalf("storage and api lists are not notified, got %v", f.topics())
	}
}
