// Package fake provides an in-memory safety.Safety for tests.
package fake

import (
	"sync"

	"github.com/cuemby/dagent/pkg/safety"
)

// Safety is a scriptable fake that runs actions synchronously on Add,
// unless AutoFire is false.
type Safety struct {
	mu       sync.Mutex
	pending  map[string]safety.UpdateAction
	AutoFire bool
}

func New() *Safety {
	return &Safety{pending: make(map[string]safety.UpdateAction), AutoFire: true}
}

func (s *Safety) AddUpdateAction(id string, action safety.UpdateAction) error {
	s.mu.Lock()
	s.pending[id] = action
	autoFire := s.AutoFire
	s.mu.Unlock()

	if autoFire {
		return s.fire(id)
	}
	return nil
}

// Fire manually runs a pending action registered with AutoFire disabled.
func (s *Safety) Fire(id string) error {
	return s.fire(id)
}

func (s *Safety) fire(id string) error {
	s.mu.Lock()
	action, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return action.Action()
}

func (s *Safety) DiscardPendingUpdateAction(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	return ok
}
