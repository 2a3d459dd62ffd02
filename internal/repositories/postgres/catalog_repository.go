package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	domain "github.com/shopforge/engine/internal/domain"
)

const (
	listProductsSQL = `SELECT p.id, p.title, p.product_type, p.vendor, p.tags, p.status, p.price, p.compare_at_price,
       p.inventory_quantity, p.weight_grams, p.category_ids,
       ARRAY(SELECT m.collection_id FROM collection_members m
             WHERE m.shop_id = p.shop_id AND m.product_id = p.id ORDER BY m.collection_id) AS collection_ids,
       p.created_at
FROM products p WHERE p.shop_id = $1 ORDER BY p.id`
	getCollectionSQL      = `SELECT id, title, type, rules, synced_at, updated_at FROM collections WHERE shop_id = $1 AND id = $2`
	listAutomaticSQL      = `SELECT id, title, type, rules, synced_at, updated_at FROM collections WHERE shop_id = $1 AND type = $2 ORDER BY id`
	listMembersSQL        = `SELECT product_id, position FROM collection_members WHERE shop_id = $1 AND collection_id = $2 ORDER BY position, product_id`
	lockCollectionSQL     = `SELECT type FROM collections WHERE shop_id = $1 AND id = $2 FOR UPDATE`
	deleteMemberSQL       = `DELETE FROM collection_members WHERE shop_id = $1 AND collection_id = $2 AND product_id = $3`
	insertMemberSQL       = `INSERT INTO collection_members (shop_id, collection_id, product_id, position) VALUES ($1, $2, $3, $4) ON CONFLICT (shop_id, collection_id, product_id) DO NOTHING`
	markSyncedSQL         = `UPDATE collections SET synced_at = $3, updated_at = $3 WHERE shop_id = $1 AND id = $2`
	upsertProductSQL      = `INSERT INTO products (shop_id, id, title, product_type, vendor, tags, status, price, compare_at_price, inventory_quantity, weight_grams, category_ids, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (shop_id, id) DO UPDATE SET
    title = EXCLUDED.title, product_type = EXCLUDED.product_type, vendor = EXCLUDED.vendor, tags = EXCLUDED.tags,
    status = EXCLUDED.status, price = EXCLUDED.price, compare_at_price = EXCLUDED.compare_at_price,
    inventory_quantity = EXCLUDED.inventory_quantity, weight_grams = EXCLUDED.weight_grams, category_ids = EXCLUDED.category_ids`
	upsertCollectionSQL = `INSERT INTO collections (shop_id, id, title, type, rules, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (shop_id, id) DO UPDATE SET title = EXCLUDED.title, type = EXCLUDED.type, rules = EXCLUDED.rules, updated_at = EXCLUDED.updated_at`
)

type ruleConditionJSON struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type ruleTreeJSON struct {
	Combinator string              `json:"combinator"`
	Conditions []ruleConditionJSON `json:"conditions"`
}

// CatalogRepository reads products and collections from Postgres and evaluates rule trees in SQL.
type CatalogRepository struct {
	db    *sql.DB
	types *pgtype.Map
}

// NewCatalogRepository wraps an open database handle.
func NewCatalogRepository(db *sql.DB) (*CatalogRepository, error) {
	if db == nil {
		return nil, errors.New("postgres catalog repository requires a database")
	}
	return &CatalogRepository{db: db, types: pgtype.NewMap()}, nil
}

// PutProduct upserts a product row.
func (r *CatalogRepository) PutProduct(ctx context.Context, p domain.Product) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, upsertProductSQL,
		p.ShopID, p.ID, p.Title, p.ProductType, p.Vendor, textArray(p.Tags), p.Status, p.Price, p.CompareAtPrice,
		p.InventoryQuantity, p.WeightGrams, textArray(p.CategoryIDs), created)
	return wrapError("products.put", err)
}

// PutCollection upserts a collection row. Members are managed through SyncMembers.
func (r *CatalogRepository) PutCollection(ctx context.Context, c domain.Collection) error {
	var rules any
	if c.Rules != nil {
		encoded, err := json.Marshal(ruleTreeToJSON(*c.Rules))
		if err != nil {
			return fmt.Errorf("postgres: encode rules: %w", err)
		}
		rules = string(encoded)
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, upsertCollectionSQL, c.ShopID, c.ID, c.Title, string(c.Type), rules, updated)
	return wrapError("collections.put", err)
}

// ListProducts implements repositories.CatalogRepository.
func (r *CatalogRepository) ListProducts(ctx context.Context, shopID string) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, listProductsSQL, shopID)
	if err != nil {
		return nil, wrapError("products.list", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p := domain.Product{ShopID: shopID}
		if err := rows.Scan(&p.ID, &p.Title, &p.ProductType, &p.Vendor, r.types.SQLScanner(&p.Tags), &p.Status,
			&p.Price, &p.CompareAtPrice, &p.InventoryQuantity, &p.WeightGrams,
			r.types.SQLScanner(&p.CategoryIDs), r.types.SQLScanner(&p.CollectionIDs), &p.CreatedAt); err != nil {
			return nil, wrapError("products.scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("products.list", err)
	}
	return out, nil
}

// MatchProductIDs implements repositories.RuleQuerier.
func (r *CatalogRepository) MatchProductIDs(ctx context.Context, shopID string, rules domain.RuleTree) ([]string, error) {
	if len(rules.Conditions) == 0 {
		return []string{}, nil
	}
	query, args, err := buildMatchQuery(shopID, rules)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("products.match", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapError("products.match", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapError("products.match", rows.Err())
}

// Get implements repositories.CollectionRepository.
func (r *CatalogRepository) Get(ctx context.Context, shopID, collectionID string) (domain.Collection, error) {
	c, err := scanCollection(r.db.QueryRowContext(ctx, getCollectionSQL, shopID, collectionID), shopID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Collection{}, notFound("collections.get", "collection %s not found", collectionID)
	}
	if err != nil {
		return domain.Collection{}, wrapError("collections.get", err)
	}
	members, err := listMembers(ctx, r.db, shopID, collectionID)
	if err != nil {
		return domain.Collection{}, err
	}
	c.Members = members
	return c, nil
}

// ListAutomatic implements repositories.CollectionRepository. Members are not loaded.
func (r *CatalogRepository) ListAutomatic(ctx context.Context, shopID string) ([]domain.Collection, error) {
	rows, err := r.db.QueryContext(ctx, listAutomaticSQL, shopID, string(domain.CollectionAutomatic))
	if err != nil {
		return nil, wrapError("collections.list_automatic", err)
	}
	defer rows.Close()

	var out []domain.Collection
	for rows.Next() {
		c, err := scanCollection(rows, shopID)
		if err != nil {
			return nil, wrapError("collections.list_automatic", err)
		}
		out = append(out, c)
	}
	return out, wrapError("collections.list_automatic", rows.Err())
}

// SyncMembers implements repositories.CollectionRepository. The collection row is locked for the
// duration of the transaction so concurrent resyncs serialise and the last committer wins.
func (r *CatalogRepository) SyncMembers(ctx context.Context, shopID, collectionID string, productIDs []string, syncedAt time.Time) (diff domain.MembershipDiff, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.MembershipDiff{}, wrapError("collections.sync_members", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var collectionType string
	if err = tx.QueryRowContext(ctx, lockCollectionSQL, shopID, collectionID).Scan(&collectionType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MembershipDiff{}, notFound("collections.sync_members", "collection %s not found", collectionID)
		}
		return domain.MembershipDiff{}, wrapError("collections.sync_members", err)
	}
	if domain.CollectionType(collectionType) != domain.CollectionAutomatic {
		err = fmt.Errorf("collection %s is not automatic", collectionID)
		return domain.MembershipDiff{}, err
	}

	current, err := listMembers(ctx, tx, shopID, collectionID)
	if err != nil {
		return domain.MembershipDiff{}, err
	}
	diff = domain.DiffMembership(current, productIDs)
	for _, productID := range diff.Delete {
		if _, err = tx.ExecContext(ctx, deleteMemberSQL, shopID, collectionID, productID); err != nil {
			return domain.MembershipDiff{}, wrapError("collections.sync_members", err)
		}
	}
	for _, m := range diff.Insert {
		if _, err = tx.ExecContext(ctx, insertMemberSQL, shopID, collectionID, m.ProductID, m.Position); err != nil {
			return domain.MembershipDiff{}, wrapError("collections.sync_members", err)
		}
	}
	if _, err = tx.ExecContext(ctx, markSyncedSQL, shopID, collectionID, syncedAt.UTC()); err != nil {
		return domain.MembershipDiff{}, wrapError("collections.sync_members", err)
	}
	if err = tx.Commit(); err != nil {
		return domain.MembershipDiff{}, wrapError("collections.sync_members", err)
	}
	return diff, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func listMembers(ctx context.Context, q queryer, shopID, collectionID string) ([]domain.CollectionMember, error) {
	rows, err := q.QueryContext(ctx, listMembersSQL, shopID, collectionID)
	if err != nil {
		return nil, wrapError("collections.members", err)
	}
	defer rows.Close()
	var members []domain.CollectionMember
	for rows.Next() {
		var m domain.CollectionMember
		if err := rows.Scan(&m.ProductID, &m.Position); err != nil {
			return nil, wrapError("collections.members", err)
		}
		members = append(members, m)
	}
	return members, wrapError("collections.members", rows.Err())
}

func scanCollection(row rowScanner, shopID string) (domain.Collection, error) {
	var (
		c        = domain.Collection{ShopID: shopID}
		kind     string
		rawRules []byte
		syncedAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Title, &kind, &rawRules, &syncedAt, &c.UpdatedAt); err != nil {
		return domain.Collection{}, err
	}
	c.Type = domain.CollectionType(kind)
	if syncedAt.Valid {
		t := syncedAt.Time.UTC()
		c.SyncedAt = &t
	}
	if len(rawRules) > 0 && strings.TrimSpace(string(rawRules)) != "null" {
		var decoded ruleTreeJSON
		if err := json.Unmarshal(rawRules, &decoded); err != nil {
			return domain.Collection{}, fmt.Errorf("decode rules of %s: %w", c.ID, err)
		}
		tree := decoded.toDomain()
		c.Rules = &tree
	}
	return c, nil
}

func ruleTreeToJSON(t domain.RuleTree) ruleTreeJSON {
	out := ruleTreeJSON{Combinator: string(t.Combinator), Conditions: make([]ruleConditionJSON, 0, len(t.Conditions))}
	for _, c := range t.Conditions {
		out.Conditions = append(out.Conditions, ruleConditionJSON{Field: string(c.Field), Operator: string(c.Operator), Value: c.Value})
	}
	return out
}

func (t ruleTreeJSON) toDomain() domain.RuleTree {
	tree := domain.RuleTree{Combinator: domain.RuleCombinator(t.Combinator)}
	for _, c := range t.Conditions {
		tree.Conditions = append(tree.Conditions, domain.RuleCondition{
			Field:    domain.RuleField(c.Field),
			Operator: domain.RuleOperator(c.Operator),
			Value:    c.Value,
		})
	}
	return tree
}

// textArray renders a Postgres text[] literal so writes work through any database/sql driver.
func textArray(values []string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
