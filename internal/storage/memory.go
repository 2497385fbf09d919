package storage

import (
	"context"
	"sort"
	"sync"

	"highorder/internal/model"
)

// MemoryStore keeps encoded checkpoints in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	payloads    map[string][]byte
	summaries   map[string]model.CheckpointSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.payloads = make(map[string][]byte)
	s.summaries = make(map[string]model.CheckpointSummary)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	if err := validateCheckpoint(checkpoint); err != nil {
		return err
	}
	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.payloads[checkpoint.ID] = payload
	s.summaries[checkpoint.ID] = checkpoint.Summary()
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Checkpoint{}, false, ErrNotInitialized
	}
	payload, ok := s.payloads[id]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	checkpoint, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.Checkpoint{}, false, err
	}
	return checkpoint, true, nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context) ([]model.CheckpointSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]model.CheckpointSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		out = append(out, summary)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) DeleteCheckpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	delete(s.payloads, id)
	delete(s.summaries, id)
	return nil
}

func sortNewestFirst(summaries []model.CheckpointSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAtUTC != summaries[j].CreatedAtUTC {
			return summaries[i].CreatedAtUTC > summaries[j].CreatedAtUTC
		}
		return summaries[i].ID < summaries[j].ID
	})
}
