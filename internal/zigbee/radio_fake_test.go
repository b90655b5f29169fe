package zigbee

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeRadio records every call so tests can assert on exact counts.
type fakeRadio struct {
	mu sync.Mutex

	devices []*RadioDevice
	handler func(RadioEvent)

	bindCoordinatorCalls []string // "ieee/ep/cluster"
	reportingCalls       []string // "ieee/ep/cluster/attr"
	readCalls            []string
	bindCalls            []string
	unbindCalls          []string
	groupAddCalls        []string
	groupRemoveCalls     []string

	readResults map[string]map[uint16]interface{} // key "ieee/ep/cluster"
	readErr     error
	bindErrFor  map[uint16]error // cluster -> error
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		readResults: make(map[string]map[uint16]interface{}),
		bindErrFor:  make(map[uint16]error),
	}
}

func (f *fakeRadio) Start(ctx context.Context) error { return nil }
func (f *fakeRadio) Stop() error                     { return nil }

func (f *fakeRadio) Devices() []*RadioDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices
}

func (f *fakeRadio) ReadAttributes(ctx context.Context, ieee string, endpoint uint8, cluster uint16, attrs []uint16) (map[uint16]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s/%d/%d", ieee, endpoint, cluster)
	f.readCalls = append(f.readCalls, key)
	if f.readErr != nil {
		return nil, f.readErr
	}
	result := make(map[uint16]interface{})
	if stored, ok := f.readResults[key]; ok {
		for _, attr := range attrs {
			if v, ok := stored[attr]; ok {
				result[attr] = v
			}
		}
	}
	return result, nil
}

func (f *fakeRadio) WriteAttribute(ctx context.Context, ieee string, endpoint uint8, cluster uint16, attr uint16, value interface{}) error {
	return nil
}

func (f *fakeRadio) Command(ctx context.Context, ieee string, endpoint uint8, cluster uint16, command uint8, args ...interface{}) error {
	return nil
}

func (f *fakeRadio) BindCoordinator(ctx context.Context, ieee string, endpoint uint8, cluster uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindCoordinatorCalls = append(f.bindCoordinatorCalls, fmt.Sprintf("%s/%d/%d", ieee, endpoint, cluster))
	return nil
}

func (f *fakeRadio) ConfigureReporting(ctx context.Context, ieee string, endpoint uint8, cluster uint16, cfg ReportConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportingCalls = append(f.reportingCalls, fmt.Sprintf("%s/%d/%d/%d", ieee, endpoint, cluster, cfg.AttributeID))
	return nil
}

func (f *fakeRadio) Bind(ctx context.Context, src, dst BindTarget, cluster uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindCalls = append(f.bindCalls, fmt.Sprintf("%s/%d->%s/%d:%d", src.IEEE, src.Endpoint, dst.IEEE, dst.Endpoint, cluster))
	if err, ok := f.bindErrFor[cluster]; ok {
		return err
	}
	return nil
}

func (f *fakeRadio) Unbind(ctx context.Context, src, dst BindTarget, cluster uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbindCalls = append(f.unbindCalls, fmt.Sprintf("%s/%d->%s/%d:%d", src.IEEE, src.Endpoint, dst.IEEE, dst.Endpoint, cluster))
	return nil
}

func (f *fakeRadio) AddGroupMember(ctx context.Context, ieee string, endpoint uint8, groupID uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupAddCalls = append(f.groupAddCalls, fmt.Sprintf("%s/%d:%d", ieee, endpoint, groupID))
	return nil
}

func (f *fakeRadio) RemoveGroupMember(ctx context.Context, ieee string, endpoint uint8, groupID uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupRemoveCalls = append(f.groupRemoveCalls, fmt.Sprintf("%s/%d:%d", ieee, endpoint, groupID))
	return nil
}

func (f *fakeRadio) PermitJoin(ctx context.Context, duration time.Duration) error { return nil }

func (f *fakeRadio) RemoveDevice(ctx context.Context, ieee string) error { return nil }

func (f *fakeRadio) SetEventHandler(handler func(RadioEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeRadio) setReadResult(ieee string, endpoint uint8, cluster uint16, attrs map[uint16]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readResults[fmt.Sprintf("%s/%d/%d", ieee, endpoint, cluster)] = attrs
}

func (f *fakeRadio) setReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeRadio) countBindCoordinator(ieee string, endpoint uint8, cluster uint16) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s/%d/%d", ieee, endpoint, cluster)
	n := 0
	for _, c := range f.bindCoordinatorCalls {
		if c == key {
			n++
		}
	}
	return n
}

func (f *fakeRadio) countReporting(ieee string, endpoint uint8, cluster uint16) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := fmt.Sprintf("%s/%d/%d/", ieee, endpoint, cluster)
	n := 0
	for _, c := range f.reportingCalls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
