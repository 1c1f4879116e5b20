package intentgateway

import (
	"context"
	"sync"
)

type memRepository struct {
	mu   sync.Mutex
	byID map[string]*Intent
}

func NewMemRepository() Repository {
	return &memRepository{byID: make(map[string]*Intent)}
}

func (m *memRepository) Create(_ context.Context, in *Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.byID[in.IntentID] = &cp
	return nil
}

func (m *memRepository) GetByID(_ context.Context, intentID string) (*Intent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.byID[intentID]
	return in, ok, nil
}
