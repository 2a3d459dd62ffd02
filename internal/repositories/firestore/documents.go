package firestore

import (
	"time"

	domain "github.com/shopforge/engine/internal/domain"
)

// Subcollections below shops/{shopId}.
const (
	promotionsCollection   = "promotions"
	settingsCollection     = "settings"
	couponUsageCollection  = "couponUsage"
	couponOrdersCollection = "couponRedemptions"
	productsCollection     = "products"
	collectionsCollection  = "collections"
	automationsCollection  = "automations"
	runLogsCollection      = "automationRuns"
	eventsCollection       = "events"
	entitiesCollection     = "entities"

	discountSettingsDoc = "customerDiscount"
)

type scopeDocument struct {
	Target                string   `firestore:"target"`
	InclusionIDs          []string `firestore:"inclusionIds,omitempty"`
	ExcludedProductIDs    []string `firestore:"excludedProductIds,omitempty"`
	ExcludedCategoryIDs   []string `firestore:"excludedCategoryIds,omitempty"`
	ExcludedCollectionIDs []string `firestore:"excludedCollectionIds,omitempty"`
	CustomerTarget        string   `firestore:"customerTarget,omitempty"`
	CustomerIDs           []string `firestore:"customerIds,omitempty"`
	CustomerTiers         []string `firestore:"customerTiers,omitempty"`
}

type volumeTierDocument struct {
	MinQty          int     `firestore:"minQty"`
	DiscountPercent float64 `firestore:"discountPercent"`
}

type promotionDocument struct {
	Type        string  `firestore:"type"`
	Code        string  `firestore:"code,omitempty"`
	Name        string  `firestore:"name,omitempty"`
	Kind        string  `firestore:"kind"`
	Value       float64 `firestore:"value"`
	IsActive    bool    `firestore:"isActive"`
	IsAutomatic bool    `firestore:"isAutomatic"`
	Priority    int     `firestore:"priority"`
	CanCombine  bool    `firestore:"canCombine"`

	BuyQuantity        int                  `firestore:"buyQuantity,omitempty"`
	GetQuantity        int                  `firestore:"getQuantity,omitempty"`
	GetDiscountPercent float64              `firestore:"getDiscountPercent,omitempty"`
	PayQuantity        int                  `firestore:"payQuantity,omitempty"`
	PayAmount          int64                `firestore:"payAmount,omitempty"`
	NthItem            int                  `firestore:"nthItem,omitempty"`
	VolumeTiers        []volumeTierDocument `firestore:"volumeTiers,omitempty"`

	Scope             scopeDocument `firestore:"scope"`
	MinOrderAmount    *int64        `firestore:"minOrderAmount,omitempty"`
	MaxDiscountAmount *int64        `firestore:"maxDiscountAmount,omitempty"`
	StartDate         *time.Time    `firestore:"startDate,omitempty"`
	EndDate           *time.Time    `firestore:"endDate,omitempty"`

	MaxUses         *int `firestore:"maxUses,omitempty"`
	UsesPerCustomer *int `firestore:"usesPerCustomer,omitempty"`
	UsedCount       int  `firestore:"usedCount"`

	GiftProductID          string `firestore:"giftProductId,omitempty"`
	GiftVariantID          string `firestore:"giftVariantId,omitempty"`
	GiftCondition          string `firestore:"giftCondition,omitempty"`
	GiftConditionProductID string `firestore:"giftConditionProductId,omitempty"`
	GiftConditionAmount    *int64 `firestore:"giftConditionAmount,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func promotionToDocument(p domain.Promotion) promotionDocument {
	tiers := make([]volumeTierDocument, 0, len(p.VolumeTiers))
	for _, tier := range p.VolumeTiers {
		tiers = append(tiers, volumeTierDocument{MinQty: tier.MinQty, DiscountPercent: tier.DiscountPercent})
	}
	return promotionDocument{
		Type:                   string(p.Type),
		Code:                   p.Code,
		Name:                   p.Name,
		Kind:                   string(p.Kind),
		Value:                  p.Value,
		IsActive:               p.IsActive,
		IsAutomatic:            p.IsAutomatic,
		Priority:               p.Priority,
		CanCombine:             p.CanCombine,
		BuyQuantity:            p.BuyQuantity,
		GetQuantity:            p.GetQuantity,
		GetDiscountPercent:     p.GetDiscountPercent,
		PayQuantity:            p.PayQuantity,
		PayAmount:              p.PayAmount,
		NthItem:                p.NthItem,
		VolumeTiers:            tiers,
		Scope:                  scopeToDocument(p.Scope),
		MinOrderAmount:         p.MinOrderAmount,
		MaxDiscountAmount:      p.MaxDiscountAmount,
		StartDate:              p.StartDate,
		EndDate:                p.EndDate,
		MaxUses:                p.MaxUses,
		UsesPerCustomer:        p.UsesPerCustomer,
		UsedCount:              p.UsedCount,
		GiftProductID:          p.GiftProductID,
		GiftVariantID:          p.GiftVariantID,
		GiftCondition:          string(p.GiftCondition),
		GiftConditionProductID: p.GiftConditionProductID,
		GiftConditionAmount:    p.GiftConditionAmount,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

func scopeToDocument(s domain.ScopeSelector) scopeDocument {
	return scopeDocument{
		Target:                string(s.Target),
		InclusionIDs:          s.InclusionIDs,
		ExcludedProductIDs:    s.ExcludedProductIDs,
		ExcludedCategoryIDs:   s.ExcludedCategoryIDs,
		ExcludedCollectionIDs: s.ExcludedCollectionIDs,
		CustomerTarget:        string(s.CustomerTarget),
		CustomerIDs:           s.CustomerIDs,
		CustomerTiers:         s.CustomerTiers,
	}
}

func (d promotionDocument) toDomain(shopID, id string) domain.Promotion {
	tiers := make([]domain.VolumeTier, 0, len(d.VolumeTiers))
	for _, tier := range d.VolumeTiers {
		tiers = append(tiers, domain.VolumeTier{MinQty: tier.MinQty, DiscountPercent: tier.DiscountPercent})
	}
	return domain.Promotion{
		ID:                 id,
		ShopID:             shopID,
		Type:               domain.PromotionType(d.Type),
		Code:               d.Code,
		Name:               d.Name,
		Kind:               domain.PromotionKind(d.Kind),
		Value:              d.Value,
		IsActive:           d.IsActive,
		IsAutomatic:        d.IsAutomatic,
		Priority:           d.Priority,
		CanCombine:         d.CanCombine,
		BuyQuantity:        d.BuyQuantity,
		GetQuantity:        d.GetQuantity,
		GetDiscountPercent: d.GetDiscountPercent,
		PayQuantity:        d.PayQuantity,
		PayAmount:          d.PayAmount,
		NthItem:            d.NthItem,
		VolumeTiers:        tiers,
		Scope: domain.ScopeSelector{
			Target:                domain.ScopeTarget(d.Scope.Target),
			InclusionIDs:          d.Scope.InclusionIDs,
			ExcludedProductIDs:    d.Scope.ExcludedProductIDs,
			ExcludedCategoryIDs:   d.Scope.ExcludedCategoryIDs,
			ExcludedCollectionIDs: d.Scope.ExcludedCollectionIDs,
			CustomerTarget:        domain.CustomerTarget(d.Scope.CustomerTarget),
			CustomerIDs:           d.Scope.CustomerIDs,
			CustomerTiers:         d.Scope.CustomerTiers,
		},
		MinOrderAmount:         d.MinOrderAmount,
		MaxDiscountAmount:      d.MaxDiscountAmount,
		StartDate:              d.StartDate,
		EndDate:                d.EndDate,
		MaxUses:                d.MaxUses,
		UsesPerCustomer:        d.UsesPerCustomer,
		UsedCount:              d.UsedCount,
		GiftProductID:          d.GiftProductID,
		GiftVariantID:          d.GiftVariantID,
		GiftCondition:          domain.GiftCondition(d.GiftCondition),
		GiftConditionProductID: d.GiftConditionProductID,
		GiftConditionAmount:    d.GiftConditionAmount,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}
}

type discountSettingsDocument struct {
	Enabled bool    `firestore:"enabled"`
	Percent float64 `firestore:"percent"`
}

type productDocument struct {
	Title             string    `firestore:"title"`
	ProductType       string    `firestore:"productType,omitempty"`
	Vendor            string    `firestore:"vendor,omitempty"`
	Tags              []string  `firestore:"tags,omitempty"`
	Status            string    `firestore:"status"`
	Price             int64     `firestore:"price"`
	CompareAtPrice    int64     `firestore:"compareAtPrice,omitempty"`
	InventoryQuantity int       `firestore:"inventoryQuantity"`
	WeightGrams       int       `firestore:"weightGrams,omitempty"`
	CategoryIDs       []string  `firestore:"categoryIds,omitempty"`
	CollectionIDs     []string  `firestore:"collectionIds,omitempty"`
	CreatedAt         time.Time `firestore:"createdAt"`
}

func productToDocument(p domain.Product) productDocument {
	return productDocument{
		Title:             p.Title,
		ProductType:       p.ProductType,
		Vendor:            p.Vendor,
		Tags:              p.Tags,
		Status:            p.Status,
		Price:             p.Price,
		CompareAtPrice:    p.CompareAtPrice,
		InventoryQuantity: p.InventoryQuantity,
		WeightGrams:       p.WeightGrams,
		CategoryIDs:       p.CategoryIDs,
		CollectionIDs:     p.CollectionIDs,
		CreatedAt:         p.CreatedAt,
	}
}

func (d productDocument) toDomain(shopID, id string) domain.Product {
	return domain.Product{
		ID:                id,
		ShopID:            shopID,
		Title:             d.Title,
		ProductType:       d.ProductType,
		Vendor:            d.Vendor,
		Tags:              d.Tags,
		Status:            d.Status,
		Price:             d.Price,
		CompareAtPrice:    d.CompareAtPrice,
		InventoryQuantity: d.InventoryQuantity,
		WeightGrams:       d.WeightGrams,
		CategoryIDs:       d.CategoryIDs,
		CollectionIDs:     d.CollectionIDs,
		CreatedAt:         d.CreatedAt,
	}
}

type ruleConditionDocument struct {
	Field    string `firestore:"field"`
	Operator string `firestore:"operator"`
	Value    string `firestore:"value"`
}

type ruleTreeDocument struct {
	Combinator string                  `firestore:"combinator"`
	Conditions []ruleConditionDocument `firestore:"conditions"`
}

type memberDocument struct {
	ProductID string `firestore:"productId"`
	Position  int    `firestore:"position"`
}

type collectionDocument struct {
	Title     string            `firestore:"title,omitempty"`
	Type      string            `firestore:"type"`
	Rules     *ruleTreeDocument `firestore:"rules,omitempty"`
	Members   []memberDocument  `firestore:"members"`
	SyncedAt  *time.Time        `firestore:"syncedAt,omitempty"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

func collectionToDocument(c domain.Collection) collectionDocument {
	doc := collectionDocument{
		Title:     c.Title,
		Type:      string(c.Type),
		Members:   membersToDocument(c.Members),
		SyncedAt:  c.SyncedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.Rules != nil {
		rules := ruleTreeDocument{Combinator: string(c.Rules.Combinator)}
		for _, cond := range c.Rules.Conditions {
			rules.Conditions = append(rules.Conditions, ruleConditionDocument{
				Field:    string(cond.Field),
				Operator: string(cond.Operator),
				Value:    cond.Value,
			})
		}
		doc.Rules = &rules
	}
	return doc
}

func (d collectionDocument) toDomain(shopID, id string) domain.Collection {
	c := domain.Collection{
		ID:        id,
		ShopID:    shopID,
		Title:     d.Title,
		Type:      domain.CollectionType(d.Type),
		SyncedAt:  d.SyncedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, m := range d.Members {
		c.Members = append(c.Members, domain.CollectionMember{ProductID: m.ProductID, Position: m.Position})
	}
	if d.Rules != nil {
		rules := domain.RuleTree{Combinator: domain.RuleCombinator(d.Rules.Combinator)}
		for _, cond := range d.Rules.Conditions {
			rules.Conditions = append(rules.Conditions, domain.RuleCondition{
				Field:    domain.RuleField(cond.Field),
				Operator: domain.RuleOperator(cond.Operator),
				Value:    cond.Value,
			})
		}
		c.Rules = &rules
	}
	return c
}

func membersToDocument(members []domain.CollectionMember) []memberDocument {
	out := make([]memberDocument, 0, len(members))
	for _, m := range members {
		out = append(out, memberDocument{ProductID: m.ProductID, Position: m.Position})
	}
	return out
}

type conditionDocument struct {
	Field           string `firestore:"field"`
	Operator        string `firestore:"operator"`
	Value           any    `firestore:"value"`
	LogicalOperator string `firestore:"logicalOperator,omitempty"`
}

type actionDocument struct {
	Type   string         `firestore:"type"`
	Config map[string]any `firestore:"config,omitempty"`
}

type automationDocument struct {
	Name             string              `firestore:"name"`
	IsActive         bool                `firestore:"isActive"`
	TriggerEventType string              `firestore:"triggerEventType"`
	TriggerFilters   map[string]any      `firestore:"triggerFilters,omitempty"`
	Conditions       []conditionDocument `firestore:"conditions,omitempty"`
	Actions          []actionDocument    `firestore:"actions"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
}

func automationToDocument(a domain.Automation) automationDocument {
	doc := automationDocument{
		Name:             a.Name,
		IsActive:         a.IsActive,
		TriggerEventType: a.Trigger.EventType,
		TriggerFilters:   a.Trigger.Filters,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
	for _, c := range a.Conditions {
		doc.Conditions = append(doc.Conditions, conditionDocument{
			Field:           c.Field,
			Operator:        string(c.Operator),
			Value:           c.Value,
			LogicalOperator: string(c.LogicalOperator),
		})
	}
	for _, act := range a.Actions {
		doc.Actions = append(doc.Actions, actionDocument{Type: string(act.Type), Config: act.Config})
	}
	return doc
}

func (d automationDocument) toDomain(shopID, id string) domain.Automation {
	a := domain.Automation{
		ID:        id,
		ShopID:    shopID,
		Name:      d.Name,
		IsActive:  d.IsActive,
		Trigger:   domain.AutomationTrigger{EventType: d.TriggerEventType, Filters: d.TriggerFilters},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, c := range d.Conditions {
		a.Conditions = append(a.Conditions, domain.AutomationCondition{
			Field:           c.Field,
			Operator:        domain.ConditionOperator(c.Operator),
			Value:           c.Value,
			LogicalOperator: domain.LogicalOperator(c.LogicalOperator),
		})
	}
	for _, act := range d.Actions {
		a.Actions = append(a.Actions, domain.AutomationAction{Type: domain.ActionType(act.Type), Config: act.Config})
	}
	return a
}

type actionResultDocument struct {
	Index  int            `firestore:"index"`
	Type   string         `firestore:"type"`
	Status string         `firestore:"status"`
	Error  string         `firestore:"error,omitempty"`
	Output map[string]any `firestore:"output,omitempty"`
}

type runLogDocument struct {
	AutomationID     string                 `firestore:"automationId"`
	EventID          string                 `firestore:"eventId"`
	EventType        string                 `firestore:"eventType"`
	Status           string                 `firestore:"status"`
	Matched          bool                   `firestore:"matched"`
	ConditionsPassed bool                   `firestore:"conditionsPassed"`
	TestRun          bool                   `firestore:"testRun"`
	Actions          []actionResultDocument `firestore:"actions,omitempty"`
	Error            string                 `firestore:"error,omitempty"`
	TriggeredAt      time.Time              `firestore:"triggeredAt"`
}

func runLogToDocument(l domain.AutomationRunLog) runLogDocument {
	doc := runLogDocument{
		AutomationID:     l.AutomationID,
		EventID:          l.EventID,
		EventType:        l.EventType,
		Status:           string(l.Status),
		Matched:          l.Matched,
		ConditionsPassed: l.ConditionsPassed,
		TestRun:          l.TestRun,
		Error:            l.Error,
		TriggeredAt:      l.TriggeredAt,
	}
	for _, r := range l.Actions {
		doc.Actions = append(doc.Actions, actionResultDocument{
			Index:  r.Index,
			Type:   string(r.Type),
			Status: string(r.Status),
			Error:  r.Error,
			Output: r.Output,
		})
	}
	return doc
}

func (d runLogDocument) toDomain(shopID, id string) domain.AutomationRunLog {
	l := domain.AutomationRunLog{
		ID:               id,
		ShopID:           shopID,
		AutomationID:     d.AutomationID,
		EventID:          d.EventID,
		EventType:        d.EventType,
		Status:           domain.RunStatus(d.Status),
		Matched:          d.Matched,
		ConditionsPassed: d.ConditionsPassed,
		TestRun:          d.TestRun,
		Error:            d.Error,
		TriggeredAt:      d.TriggeredAt,
	}
	for _, r := range d.Actions {
		l.Actions = append(l.Actions, domain.ActionResult{
			Index:  r.Index,
			Type:   domain.ActionType(r.Type),
			Status: domain.ActionStatus(r.Status),
			Error:  r.Error,
			Output: r.Output,
		})
	}
	return l
}

type eventChainDocument struct {
	ID          string   `firestore:"id,omitempty"`
	Depth       int      `firestore:"depth"`
	Automations []string `firestore:"automations,omitempty"`
}

type eventDocument struct {
	Type       string             `firestore:"type"`
	EntityType string             `firestore:"entityType,omitempty"`
	EntityID   string             `firestore:"entityId,omitempty"`
	Payload    map[string]any     `firestore:"payload"`
	ActorID    string             `firestore:"actorId,omitempty"`
	Chain      eventChainDocument `firestore:"chain"`
	CreatedAt  time.Time          `firestore:"createdAt"`
}

func eventToDocument(e domain.ShopEvent) eventDocument {
	return eventDocument{
		Type:       e.Type,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Payload:    e.Payload,
		ActorID:    e.ActorID,
		Chain:      eventChainDocument{ID: e.Chain.ID, Depth: e.Chain.Depth, Automations: e.Chain.Automations},
		CreatedAt:  e.CreatedAt,
	}
}
