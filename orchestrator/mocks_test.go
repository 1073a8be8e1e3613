package orchestrator

import (
	"context"
	"sync"

	"github.com/projecteru2/hatchery/provider"
)

// fakeProvider is an in-memory provider.Client for tests. Behavior is
// controlled through the error fields; calls are recorded for verification.
type fakeProvider struct {
	mu sync.Mutex

	createErr error
	startErr  error
	stopErr   error
	deleteErr error
	status    provider.Status
	statusErr error

	created []provider.CreateSpec
	started []string
	stopped []string
	deleted []string
}

func (f *fakeProvider) CreateVM(_ context.Context, spec provider.CreateSpec) (*provider.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, spec)
	return &provider.CreateResult{
		ProviderID: "prov-" + spec.Name,
		Address:    "10.0.0.5",
		Port:       2222,
	}, nil
}

func (f *fakeProvider) StartVM(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, name)
	return nil
}

func (f *fakeProvider) StopVM(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeProvider) DeleteVM(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeProvider) GetVMStatus(_ context.Context, _ string) (provider.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	if f.status == "" {
		return provider.StatusRunning, nil
	}
	return f.status, nil
}

func (f *fakeProvider) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}

func (f *fakeProvider) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}
