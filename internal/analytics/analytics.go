package analytics

import (
	"context"
	"sort"
	"time"

	"bastion/internal/storage"
)

type Store interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
	ListRecords(ctx context.Context, targetID string, limit int) ([]storage.Record, error)
	CountRecords(ctx context.Context, targetID string) (map[storage.Kind]int, error)
}

type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

// TopEvents returns up to n event names, most frequent first.
func (r Report) TopEvents(n int) []string {
	events := make([]string, 0, len(r.ByEvent))
	for event := range r.ByEvent {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		if r.ByEvent[events[i]] != r.ByEvent[events[j]] {
			return r.ByEvent[events[i]] > r.ByEvent[events[j]]
		}
		return events[i] < events[j]
	})
	if n > 0 && len(events) > n {
		events = events[:n]
	}
	return events
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

// Summary is a member's moderation history.
type Summary struct {
	UserID string
	Counts map[storage.Kind]int
	Recent []storage.Record
}

func (s Summary) Total() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}

func (s *Service) Summary(ctx context.Context, userID string, recent int) (Summary, error) {
	counts, err := s.store.CountRecords(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	records, err := s.store.ListRecords(ctx, userID, recent)
	if err != nil {
		return Summary{}, err
	}
	return Summary{UserID: userID, Counts: counts, Recent: records}, nil
}
