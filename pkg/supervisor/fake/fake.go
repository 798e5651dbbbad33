// Package fake provides an in-memory supervisor.Supervisor for tests.
package fake

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/dagent/pkg/supervisor"
)

// Service is an in-memory supervisor.Service.
type Service struct {
	ServiceName string
	State       supervisor.State
	ModTime     time.Time
	Builtin     bool
	AutoStart   bool
	HardDeps    []string

	StartCalls     int
	ReinstallCalls int
	CloseCalls     int
}

func (s *Service) Name() string { return s.ServiceName }

func (s *Service) RequestStart() error {
	s.StartCalls++
	s.State = supervisor.StateRunning
	s.ModTime = s.ModTime.Add(time.Second)
	return nil
}

func (s *Service) RequestReinstall() error {
	s.ReinstallCalls++
	s.State = supervisor.StateInstalled
	return nil
}

func (s *Service) Close() <-chan error {
	s.CloseCalls++
	ch := make(chan error, 1)
	s.State = supervisor.StateFinished
	ch <- nil
	return ch
}

func (s *Service) GetState() supervisor.State { return s.State }
func (s *Service) GetStateModTime() time.Time { return s.ModTime }
func (s *Service) ReachedDesiredState() bool {
	return s.State == supervisor.StateRunning || s.State == supervisor.StateFinished
}
func (s *Service) ShouldAutoStart() bool { return s.AutoStart }
func (s *Service) IsBuiltin() bool       { return s.Builtin }

// Supervisor is an in-memory supervisor.Supervisor.
type Supervisor struct {
	mu       sync.Mutex
	services map[string]*Service
	config   map[string]interface{}

	Snapshots     []string
	ShutdownCalls []string
}

// New creates an empty fake Supervisor.
func New() *Supervisor {
	return &Supervisor{
		services: make(map[string]*Service),
		config:   make(map[string]interface{}),
	}
}

// AddService registers svc so Locate/OrderedDependencies can find it.
func (f *Supervisor) AddService(svc *Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[svc.ServiceName] = svc
}

func (f *Supervisor) Locate(name string) (supervisor.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[name]
	if !ok {
		return nil, fmt.Errorf("service not found: %s", name)
	}
	return svc, nil
}

func (f *Supervisor) OrderedDependencies() ([]supervisor.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]supervisor.Service, 0, len(f.services))
	for _, svc := range f.services {
		out = append(out, svc)
	}
	return out, nil
}

func (f *Supervisor) GetMain() (supervisor.Service, error) {
	return f.Locate("main")
}

func (f *Supervisor) LookupTopics(path ...string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.config[joinPath(path)].(map[string]interface{}); ok {
		return v, nil
	}
	return nil, nil
}

func (f *Supervisor) Lookup(path ...string) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config[joinPath(path)], nil
}

func (f *Supervisor) ReplaceAndWait(path []string, value map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config[joinPath(path)] = value
	return nil
}

func (f *Supervisor) Remove(path ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.config, joinPath(path))
	return nil
}

func (f *Supervisor) WriteTransactionLog(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Snapshots = append(f.Snapshots, path)
	return nil
}

func (f *Supervisor) Shutdown(graceSeconds int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ShutdownCalls = append(f.ShutdownCalls, reason)
	return nil
}

func (f *Supervisor) HardDependencyClosure(rootComponent string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[rootComponent]
	if !ok {
		return []string{rootComponent}, nil
	}
	closure := []string{rootComponent}
	closure = append(closure, svc.HardDeps...)
	return closure, nil
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}
