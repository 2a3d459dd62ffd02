package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/shopforge/engine/internal/domain"
	pfirestore "github.com/shopforge/engine/internal/platform/firestore"
	"github.com/shopforge/engine/internal/platform/pagination"
)

const defaultRunLogPageSize = 20

// AutomationRepository reads automations and stores their run logs.
type AutomationRepository struct {
	provider    *pfirestore.Provider
	automations *pfirestore.ShopCollection[automationDocument]
	runLogs     *pfirestore.ShopCollection[runLogDocument]
}

// NewAutomationRepository constructs a Firestore-backed automation repository.
func NewAutomationRepository(provider *pfirestore.Provider) (*AutomationRepository, error) {
	if provider == nil {
		return nil, errors.New("automation repository requires firestore provider")
	}
	return &AutomationRepository{
		provider:    provider,
		automations: pfirestore.NewShopCollection[automationDocument](provider, automationsCollection, nil),
		runLogs:     pfirestore.NewShopCollection[runLogDocument](provider, runLogsCollection, nil),
	}, nil
}

// Put writes an automation document.
func (r *AutomationRepository) Put(ctx context.Context, automation domain.Automation) error {
	return r.automations.Set(ctx, automation.ShopID, automation.ID, automationToDocument(automation))
}

// ListActiveByEvent implements repositories.AutomationRepository.
func (r *AutomationRepository) ListActiveByEvent(ctx context.Context, shopID, eventType string) ([]domain.Automation, error) {
	docs, err := r.automations.Query(ctx, shopID, func(q firestore.Query) firestore.Query {
		return q.Where("isActive", "==", true).
			Where("triggerEventType", "==", eventType).
			OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Automation, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(shopID, doc.ID))
	}
	return out, nil
}

// Get implements repositories.AutomationRepository.
func (r *AutomationRepository) Get(ctx context.Context, shopID, automationID string) (domain.Automation, error) {
	doc, err := r.automations.Get(ctx, shopID, automationID)
	if err != nil {
		return domain.Automation{}, err
	}
	return doc.Data.toDomain(shopID, doc.ID), nil
}

// Append implements repositories.RunLogRepository.
func (r *AutomationRepository) Append(ctx context.Context, log domain.AutomationRunLog) error {
	return r.runLogs.Create(ctx, log.ShopID, log.ID, runLogToDocument(log))
}

// List implements repositories.RunLogRepository. Logs are ordered newest first; the page token
// carries the (triggeredAt, id) of the last returned log.
func (r *AutomationRepository) List(ctx context.Context, shopID, automationID string, page domain.Pagination) (domain.CursorPage[domain.AutomationRunLog], error) {
	afterAt, afterID, hasCursor, err := pagination.DecodeRunLogToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AutomationRunLog]{}, err
	}
	size := page.PageSize
	if size <= 0 {
		size = defaultRunLogPageSize
	}

	docs, err := r.runLogs.Query(ctx, shopID, func(q firestore.Query) firestore.Query {
		q = q.Where("automationId", "==", automationID).
			OrderBy("triggeredAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if hasCursor {
			q = q.StartAfter(afterAt, afterID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.AutomationRunLog]{}, err
	}

	result := domain.CursorPage[domain.AutomationRunLog]{}
	for i, doc := range docs {
		if i == size {
			last := result.Items[len(result.Items)-1]
			token, err := pagination.RunLogToken(last.TriggeredAt, last.ID)
			if err != nil {
				return domain.CursorPage[domain.AutomationRunLog]{}, err
			}
			result.NextPageToken = token
			break
		}
		result.Items = append(result.Items, doc.Data.toDomain(shopID, doc.ID))
	}
	return result, nil
}

// Trim implements repositories.RunLogRepository.
func (r *AutomationRepository) Trim(ctx context.Context, shopID, automationID string, keep int) (int, error) {
	if keep < 0 {
		return 0, nil
	}
	coll, err := r.runLogs.Ref(ctx, shopID)
	if err != nil {
		return 0, err
	}
	iter := coll.Where("automationId", "==", automationID).
		OrderBy("triggeredAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Offset(keep).
		Select().
		Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, pfirestore.WrapError("automationRuns.trim", err)
		}
		refs = append(refs, snap.Ref)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := writer.Delete(ref)
		if err != nil {
			writer.End()
			return 0, pfirestore.WrapError("automationRuns.trim", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	deleted := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return deleted, pfirestore.WrapError("automationRuns.trim", err)
		}
		deleted++
	}
	return deleted, nil
}

// EventStore persists ShopEvents under shops/{shopId}/events.
type EventStore struct {
	events *pfirestore.ShopCollection[eventDocument]
}

// NewEventStore constructs a Firestore-backed event store.
func NewEventStore(provider *pfirestore.Provider) (*EventStore, error) {
	if provider == nil {
		return nil, errors.New("event store requires firestore provider")
	}
	return &EventStore{events: pfirestore.NewShopCollection[eventDocument](provider, eventsCollection, nil)}, nil
}

// Append implements repositories.EventRepository. Events are created, never overwritten.
func (s *EventStore) Append(ctx context.Context, event domain.ShopEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		return errors.New("event id is required")
	}
	return s.events.Create(ctx, event.ShopID, event.ID, eventToDocument(event))
}
