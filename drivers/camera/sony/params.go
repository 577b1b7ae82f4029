package sony

import (
	"encoding/json"
	"reflect"
	"sort"
	"sync"
)

const (
	StatusUnknown  = "UNKNOWN"
	StatusIdle     = "IDLE"
	StatusNotReady = "NotReady"
)

// Parameter is a camera setting with its current value and the values the
// camera currently accepts.
type Parameter struct {
	Name      string `json:"-"`
	Current   any    `json:"current"`
	Available []any  `json:"available"`
}

// Accepts reports whether value is one of the available values.
func (p Parameter) Accepts(value any) bool {
	for _, v := range p.Available {
		if reflect.DeepEqual(v, value) {
			return true
		}
	}
	return false
}

// ParameterStore mirrors the camera state learned from events. Only the event
// poller writes to it; everyone else reads snapshots.
type ParameterStore struct {
	mux             sync.RWMutex
	status          string
	params          map[string]Parameter
	apis            map[string]struct{}
	photosRemaining int
}

func NewParameterStore() *ParameterStore {
	return &ParameterStore{
		status: StatusUnknown,
		params: map[string]Parameter{},
		apis:   map[string]struct{}{},
	}
}

func (s *ParameterStore) Status() string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.status
}

func (s *ParameterStore) setStatus(status string) (changed bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	changed = s.status != status
	s.status = status
	return changed
}

func (s *ParameterStore) Parameter(name string) (Parameter, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	p, ok := s.params[name]
	return p, ok
}

// Parameters returns a copy of every known parameter keyed by name.
func (s *ParameterStore) Parameters() map[string]Parameter {
	s.mux.RLock()
	defer s.mux.RUnlock()
	out := make(map[string]Parameter, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// setParameter stores p and reports whether its current value differs from
// the previously stored one. A parameter seen for the first time counts as a change.
func (s *ParameterStore) setParameter(p Parameter) (changed bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	old, known := s.params[p.Name]
	s.params[p.Name] = p
	return !known || !reflect.DeepEqual(old.Current, p.Current)
}

func (s *ParameterStore) HasAPI(name string) bool {
	s.mux.RLock()
	defer s.mux.RUnlock()
	_, ok := s.apis[name]
	return ok
}

// AvailableAPIs returns the sorted names of the operations the camera allows.
func (s *ParameterStore) AvailableAPIs() []string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	names := make([]string, 0, len(s.apis))
	for name := range s.apis {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *ParameterStore) setAvailableAPIs(names []string) {
	apis := make(map[string]struct{}, len(names))
	for _, n := range names {
		apis[n] = struct{}{}
	}
	s.mux.Lock()
	s.apis = apis
	s.mux.Unlock()
}

func (s *ParameterStore) PhotosRemaining() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.photosRemaining
}

func (s *ParameterStore) setPhotosRemaining(n int) {
	s.mux.Lock()
	s.photosRemaining = n
	s.mux.Unlock()
}

// normalizeValue gives value the shape it would have after a trip through
// encoding/json, so user supplied values compare equal to decoded ones.
func normalizeValue(value any) any {
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return value
	}
	return out
}
