package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/kiranshivaraju/receiptq/internal/results"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

func (s *Store) AppendResult(_ context.Context, rec *models.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultID++
	rec.ID = s.resultID
	c := *rec
	c.Raw = append([]byte(nil), rec.Raw...)
	s.results = append(s.results, c)
	return nil
}

func (s *Store) ListResults(_ context.Context, printerID string, limit int) ([]models.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ResultRecord
	for _, r := range s.results {
		if r.PrinterID == printerID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteResultsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.results[:0]
	var n int64
	for _, r := range s.results {
		if r.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.results = kept
	return n, nil
}

var _ results.Store = (*Store)(nil)
