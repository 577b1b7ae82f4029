package sony

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// caller is the part of Transport the poller needs.
type caller interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// eventItem is one element of a getEvent result. Elements are either a single
// object or a list of objects sharing a type; both end up here.
type eventItem struct {
	Type   string
	Fields map[string]any   // set for single objects
	Items  []map[string]any // set for lists
}

// records returns the objects carried by the item regardless of its shape.
func (e eventItem) records() []map[string]any {
	if e.Fields != nil {
		return []map[string]any{e.Fields}
	}
	return e.Items
}

type cameraStatusEvent struct {
	CameraStatus string `mapstructure:"cameraStatus"`
}

type storageInformationEvent struct {
	RecordTarget             bool `mapstructure:"recordTarget"`
	NumberOfRecordableImages int  `mapstructure:"numberOfRecordableImages"`
}

type availableAPIListEvent struct {
	Names []string `mapstructure:"names"`
}

type eventDecoder func(p *EventPoller, item eventItem) error

// EventPoller issues getEvent calls and folds the results into a ParameterStore.
type EventPoller struct {
	transport  caller
	store      *ParameterStore
	publish    func(Notification)
	onNotReady func()
	decoders   map[string]eventDecoder
	pollMux    sync.Mutex
	log        *log.Entry
}

// NewEventPoller wires a poller. publish receives status and parameter
// notifications; onNotReady is called whenever the camera reports NotReady.
func NewEventPoller(transport caller, store *ParameterStore, publish func(Notification), onNotReady func()) *EventPoller {
	return &EventPoller{
		transport:  transport,
		store:      store,
		publish:    publish,
		onNotReady: onNotReady,
		decoders: map[string]eventDecoder{
			"cameraStatus":       (*EventPoller).decodeCameraStatus,
			"storageInformation": (*EventPoller).decodeStorageInformation,
			"availableApiList":   (*EventPoller).decodeAvailableAPIList,
		},
		log: log.WithField("component", "event-poller"),
	}
}

// Poll issues exactly one getEvent call. With waitForChange the camera holds
// the call until something changes. Calls are serialized, so at most one is
// ever in flight.
func (p *EventPoller) Poll(ctx context.Context, waitForChange bool) error {
	p.pollMux.Lock()
	defer p.pollMux.Unlock()

	raw, err := p.transport.Call(ctx, methodGetEvent, waitForChange)
	if err != nil {
		return err
	}
	items, err := normalizeEvents(raw)
	if err != nil {
		return err
	}
	for _, item := range items {
		p.dispatch(item)
	}
	return nil
}

func normalizeEvents(raw json.RawMessage) ([]eventItem, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, errors.Wrap(err, "malformed getEvent result")
	}

	items := make([]eventItem, 0, len(elements))
	for _, el := range elements {
		el = bytes.TrimSpace(el)
		if len(el) == 0 {
			continue
		}
		switch el[0] {
		case '[':
			var list []map[string]any
			if err := json.Unmarshal(el, &list); err != nil || len(list) == 0 || list[0] == nil {
				continue
			}
			typ, _ := list[0]["type"].(string)
			items = append(items, eventItem{Type: typ, Items: list})
		case '{':
			var fields map[string]any
			if err := json.Unmarshal(el, &fields); err != nil {
				continue
			}
			typ, _ := fields["type"].(string)
			items = append(items, eventItem{Type: typ, Fields: fields})
		}
	}
	return items, nil
}

func (p *EventPoller) dispatch(item eventItem) {
	if item.Type == "" {
		return
	}
	decode, ok := p.decoders[item.Type]
	if !ok {
		if _, isParam := item.Fields[item.Type+"Candidates"]; !isParam {
			return
		}
		decode = (*EventPoller).decodeParameter
	}
	if err := decode(p, item); err != nil {
		p.log.Debugf("skipping %s event: %v", item.Type, err)
	}
}

func decodeRecord(record map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(record)
}

func (p *EventPoller) decodeCameraStatus(item eventItem) error {
	records := item.records()
	if len(records) == 0 {
		return errors.New("empty item")
	}
	var ev cameraStatusEvent
	if err := decodeRecord(records[0], &ev); err != nil {
		return err
	}
	if ev.CameraStatus == "" {
		return errors.New("missing cameraStatus")
	}

	if p.store.setStatus(ev.CameraStatus) {
		p.log.Info("status ", ev.CameraStatus)
		p.publish(Notification{Topic: TopicStatus, Status: ev.CameraStatus})
	}
	if ev.CameraStatus == StatusNotReady && p.onNotReady != nil {
		p.onNotReady()
	}
	return nil
}

func (p *EventPoller) decodeStorageInformation(item eventItem) error {
	for _, record := range item.records() {
		var ev storageInformationEvent
		if err := decodeRecord(record, &ev); err != nil {
			return err
		}
		if ev.RecordTarget {
			p.store.setPhotosRemaining(ev.NumberOfRecordableImages)
		}
	}
	return nil
}

func (p *EventPoller) decodeAvailableAPIList(item eventItem) error {
	records := item.records()
	if len(records) == 0 {
		return errors.New("empty item")
	}
	var ev availableAPIListEvent
	if err := decodeRecord(records[0], &ev); err != nil {
		return err
	}
	p.store.setAvailableAPIs(ev.Names)
	return nil
}

// decodeParameter handles any "<type>" item carrying "<type>Candidates" and
// "current<Type>" fields, e.g. exposureMode / exposureModeCandidates /
// currentExposureMode.
func (p *EventPoller) decodeParameter(item eventItem) error {
	candidates, ok := item.Fields[item.Type+"Candidates"].([]any)
	if !ok {
		return errors.Errorf("%sCandidates is not a list", item.Type)
	}
	current := item.Fields["current"+capitalize(item.Type)]

	param := Parameter{Name: item.Type, Current: current, Available: append([]any(nil), candidates...)}
	if current != nil && !param.Accepts(current) {
		param.Available = append(param.Available, current)
	}
	if p.store.setParameter(param) {
		p.log.Infof("%s = %v", param.Name, param.Current)
		p.publish(Notification{Topic: TopicUpdate, Parameter: &param})
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
