package archive

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
)

// MemoryObject is an object held by MemoryStore.
type MemoryObject struct {
	ID      string
	Name    string
	Content []byte
	Version int
}

// MemoryStore keeps objects in process memory. It backs ARCHIVE_BACKEND=memory.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]*MemoryObject
	seq     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*MemoryObject)}
}

func (s *MemoryStore) Find(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// lowest id wins, matching the first hit of a name query
	ids := make([]string, 0, len(s.objects))
	for id, obj := range s.objects {
		if obj.Name == name {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(ids)
	return ids[0], nil
}

func (s *MemoryStore) Create(_ context.Context, localPath, name string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("obj-%06d", s.seq)
	s.objects[id] = &MemoryObject{ID: id, Name: name, Content: data, Version: 1}
	return id, nil
}

func (s *MemoryStore) Update(_ context.Context, id, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return "", fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	obj.Content = data
	obj.Version++
	return id, nil
}

// Objects returns a snapshot of all objects ordered by id.
func (s *MemoryStore) Objects() []MemoryObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MemoryObject, 0, len(s.objects))
	for _, obj := range s.objects {
		cp := *obj
		cp.Content = append([]byte(nil), obj.Content...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
