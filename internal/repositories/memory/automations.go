package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/platform/pagination"
)

const defaultRunLogPageSize = 20

// AutomationRepository stores automations, their run logs, emitted events and generic entities.
type AutomationRepository struct {
	mu          sync.Mutex
	automations map[string]domain.Automation
	logs        []domain.AutomationRunLog
	events      []domain.ShopEvent
	entities    map[string]map[string]any
}

// NewAutomationRepository returns a repository seeded with the given automations.
func NewAutomationRepository(automations ...domain.Automation) *AutomationRepository {
	repo := &AutomationRepository{
		automations: make(map[string]domain.Automation),
		entities:    make(map[string]map[string]any),
	}
	for _, a := range automations {
		repo.Put(a)
	}
	return repo
}

// Put inserts or replaces an automation.
func (r *AutomationRepository) Put(a domain.Automation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.automations[shopKey(a.ShopID, a.ID)] = a
}

// ListActiveByEvent implements repositories.AutomationRepository.
func (r *AutomationRepository) ListActiveByEvent(_ context.Context, shopID, eventType string) ([]domain.Automation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Automation
	for _, a := range r.automations {
		if a.ShopID == shopID && a.IsActive && a.Trigger.EventType == eventType {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get implements repositories.AutomationRepository.
func (r *AutomationRepository) Get(_ context.Context, shopID, automationID string) (domain.Automation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.automations[shopKey(shopID, automationID)]
	if !ok {
		return domain.Automation{}, notFound("automations.get", "automation %q not found", automationID)
	}
	return a, nil
}

// Append implements repositories.RunLogRepository.
func (r *AutomationRepository) Append(_ context.Context, log domain.AutomationRunLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

// List implements repositories.RunLogRepository, newest first.
func (r *AutomationRepository) List(_ context.Context, shopID, automationID string, page domain.Pagination) (domain.CursorPage[domain.AutomationRunLog], error) {
	offset, err := pagination.DecodeOffsetToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AutomationRunLog]{}, err
	}
	size := page.PageSize
	if size <= 0 {
		size = defaultRunLogPageSize
	}

	r.mu.Lock()
	logs := r.logsFor(shopID, automationID)
	r.mu.Unlock()

	if offset > len(logs) {
		offset = len(logs)
	}
	end := offset + size
	if end > len(logs) {
		end = len(logs)
	}
	result := domain.CursorPage[domain.AutomationRunLog]{Items: logs[offset:end]}
	if end < len(logs) {
		token, err := pagination.OffsetToken(end)
		if err != nil {
			return domain.CursorPage[domain.AutomationRunLog]{}, err
		}
		result.NextPageToken = token
	}
	return result, nil
}

// Trim implements repositories.RunLogRepository.
func (r *AutomationRepository) Trim(_ context.Context, shopID, automationID string, keep int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logs := r.logsFor(shopID, automationID)
	if keep < 0 || len(logs) <= keep {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(logs)-keep)
	for _, log := range logs[keep:] {
		drop[log.ID] = struct{}{}
	}
	kept := r.logs[:0]
	for _, log := range r.logs {
		if _, ok := drop[log.ID]; ok && log.ShopID == shopID && log.AutomationID == automationID {
			continue
		}
		kept = append(kept, log)
	}
	r.logs = kept
	return len(drop), nil
}

func (r *AutomationRepository) logsFor(shopID, automationID string) []domain.AutomationRunLog {
	var out []domain.AutomationRunLog
	for _, log := range r.logs {
		if log.ShopID == shopID && log.AutomationID == automationID {
			out = append(out, log)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].TriggeredAt.After(out[j].TriggeredAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Logs returns every stored run log in append order.
func (r *AutomationRepository) Logs() []domain.AutomationRunLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AutomationRunLog(nil), r.logs...)
}

// EventStore adapts the repository to repositories.EventRepository.
func (r *AutomationRepository) EventStore() *EventStore {
	return &EventStore{repo: r}
}

// EventStore records appended ShopEvents.
type EventStore struct {
	repo *AutomationRepository
}

// Append implements repositories.EventRepository.
func (s *EventStore) Append(_ context.Context, event domain.ShopEvent) error {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	s.repo.events = append(s.repo.events, event)
	return nil
}

// Events returns every appended event in order.
func (r *AutomationRepository) Events() []domain.ShopEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ShopEvent(nil), r.events...)
}

// Create implements repositories.EntityWriter.
func (r *AutomationRepository) Create(_ context.Context, shopID, entityType, entityID string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record := make(map[string]any, len(data)+1)
	for k, v := range data {
		record[k] = v
	}
	record["createdAt"] = time.Now().UTC()
	r.entities[shopKey(shopID, entityType+"/"+entityID)] = record
	return nil
}

// Update implements repositories.EntityWriter.
func (r *AutomationRepository) Update(_ context.Context, shopID, entityType, entityID string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := shopKey(shopID, entityType+"/"+entityID)
	record, ok := r.entities[key]
	if !ok {
		return notFound("entities.update", "%s %q not found", entityType, entityID)
	}
	for k, v := range data {
		record[k] = v
	}
	return nil
}

// Entity returns a copy of a stored entity.
func (r *AutomationRepository) Entity(shopID, entityType, entityID string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.entities[shopKey(shopID, entityType+"/"+entityID)]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out, true
}
