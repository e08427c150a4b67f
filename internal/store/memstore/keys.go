package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/receiptq/internal/store"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

func (s *Store) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.Active() {
			out = append(out, copyKey(k))
		}
	}
	return out, nil
}

func (s *Store) RecordAPIKeyUse(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return store.ErrNotFound
	}
	now := s.now()
	k.UsageCount++
	k.LastUsedAt = &now
	k.UpdatedAt = now
	s.keys[id] = k
	return nil
}

func (s *Store) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == key.ID || k.KeyHash == key.KeyHash {
			return store.ErrDuplicateKey
		}
	}
	s.keys[key.ID] = *copyKey(*key)
	return nil
}

func (s *Store) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.Active() {
			out = append(out, copyKey(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || !k.Active() {
		return store.ErrNotFound
	}
	now := s.now()
	k.DeletedAt = &now
	k.UpdatedAt = now
	s.keys[id] = k
	return nil
}

func (s *Store) CountAPIKeys(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, k := range s.keys {
		if k.Active() {
			n++
		}
	}
	return n, nil
}

func copyKey(k models.APIKey) *models.APIKey {
	k.Scopes = append([]string(nil), k.Scopes...)
	return &k
}

var _ store.Store = (*Store)(nil)
