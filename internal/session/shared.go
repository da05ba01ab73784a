package session

import (
	"context"
	"sync"

	"github.com/54b3r/hamdam-go/internal/logging"
)

// SharedLoader lets several Managers draw on one runtime. It counts the
// sessions holding each runtime model and only passes Unload through when
// the last of them lets go, so one conversation switching away does not
// evict a model another is still answering with.
type SharedLoader struct {
	loader Loader

	mu     sync.Mutex
	models map[string]*modelRefs
}

// modelRefs serializes Load and Unload of one model so an unload in flight
// cannot evict a model that is being loaded for another session.
type modelRefs struct {
	mu   sync.Mutex
	refs int
}

// NewSharedLoader wraps l.
func NewSharedLoader(l Loader) *SharedLoader {
	return &SharedLoader{loader: l, models: make(map[string]*modelRefs)}
}

func (s *SharedLoader) entry(model string) *modelRefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.models[model]
	if !ok {
		e = &modelRefs{}
		s.models[model] = e
	}
	return e
}

// Load implements Loader.
func (s *SharedLoader) Load(ctx context.Context, d Descriptor) (Session, error) {
	e := s.entry(d.Model())
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, err := s.loader.Load(ctx, d)
	if err != nil {
		return nil, err
	}
	e.refs++
	return sess, nil
}

// Unload implements Loader. It returns at once while other sessions still
// hold the model.
func (s *SharedLoader) Unload(ctx context.Context, sess Session) error {
	model := sess.Descriptor().Model()
	e := s.entry(model)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.refs > 1 {
		e.refs--
		logging.FromContext(ctx).Debug("session: model still in use, unload skipped",
			"model", sess.Descriptor().Name, "sessions", e.refs)
		return nil
	}
	e.refs = 0
	return s.loader.Unload(ctx, sess)
}

// Refs reports how many sessions currently hold the runtime model.
func (s *SharedLoader) Refs(model string) int {
	e := s.entry(model)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs
}
