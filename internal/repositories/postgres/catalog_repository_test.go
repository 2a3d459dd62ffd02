package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/repositories"
)

const shop = "shop-1"

func newMockRepo(t *testing.T) (*CatalogRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo, err := NewCatalogRepository(db)
	require.NoError(t, err)
	return repo, mock
}

func TestBuildMatchQuery(t *testing.T) {
	tree := domain.RuleTree{Combinator: domain.CombinatorAll, Conditions: []domain.RuleCondition{
		{Field: domain.RuleFieldTitle, Operator: domain.RuleContains, Value: "50%_Off"},
		{Field: domain.RuleFieldTag, Operator: domain.RuleNotEquals, Value: "Clearance"},
		{Field: domain.RuleFieldPrice, Operator: domain.RuleGreaterThan, Value: "2000"},
		{Field: domain.RuleFieldVendor, Operator: domain.RuleStartsWith, Value: "Ac"},
	}}
	query, args, err := buildMatchQuery(shop, tree)
	require.NoError(t, err)

	assert.Equal(t, "SELECT p.id FROM products p WHERE p.shop_id = $1 AND ("+
		`(LOWER(p.title) LIKE $2 ESCAPE '\') AND `+
		"(NOT EXISTS (SELECT 1 FROM unnest(p.tags) AS v(val) WHERE LOWER(v.val) = $3)) AND "+
		"(p.price > $4) AND "+
		`(LOWER(p.vendor) LIKE $5 ESCAPE '\')`+
		") ORDER BY p.id", query)
	assert.Equal(t, []any{shop, `%50\%\_off%`, "clearance", int64(2000), "ac%"}, args)
}

func TestBuildMatchQuery_AnyCombinator(t *testing.T) {
	tree := domain.RuleTree{Combinator: domain.CombinatorAny, Conditions: []domain.RuleCondition{
		{Field: domain.RuleFieldCategoryID, Operator: domain.RuleEndsWith, Value: "hats"},
		{Field: domain.RuleFieldStatus, Operator: domain.RuleEquals, Value: "Draft"},
	}}
	query, args, err := buildMatchQuery(shop, tree)
	require.NoError(t, err)
	assert.Contains(t, query, `EXISTS (SELECT 1 FROM unnest(p.category_ids) AS v(val) WHERE LOWER(v.val) LIKE $2 ESCAPE '\')) OR (LOWER(p.status) = $3)`)
	assert.Equal(t, []any{shop, "%hats", "draft"}, args)
}

func TestBuildMatchQuery_Rejects(t *testing.T) {
	cases := map[string]domain.RuleTree{
		"empty":              {Combinator: domain.CombinatorAll},
		"unknown combinator": {Combinator: "SOME", Conditions: []domain.RuleCondition{{Field: domain.RuleFieldTitle, Operator: domain.RuleEquals, Value: "x"}}},
		"numeric text op":    {Combinator: domain.CombinatorAll, Conditions: []domain.RuleCondition{{Field: domain.RuleFieldPrice, Operator: domain.RuleContains, Value: "1"}}},
		"non integer":        {Combinator: domain.CombinatorAll, Conditions: []domain.RuleCondition{{Field: domain.RuleFieldWeight, Operator: domain.RuleEquals, Value: "1.5"}}},
		"unknown field":      {Combinator: domain.CombinatorAll, Conditions: []domain.RuleCondition{{Field: "color", Operator: domain.RuleEquals, Value: "red"}}},
	}
	for name, tree := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := buildMatchQuery(shop, tree)
			assert.Error(t, err)
		})
	}
}

func TestMatchProductIDs(t *testing.T) {
	repo, mock := newMockRepo(t)
	tree := domain.RuleTree{Combinator: domain.CombinatorAll, Conditions: []domain.RuleCondition{
		{Field: domain.RuleFieldVendor, Operator: domain.RuleEquals, Value: "ACME"},
	}}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT p.id FROM products p WHERE p.shop_id = $1 AND ((LOWER(p.vendor) = $2)) ORDER BY p.id")).
		WithArgs(shop, "acme").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1").AddRow("p3"))

	ids, err := repo.MatchProductIDs(context.Background(), shop, tree)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p3"}, ids)

	empty, err := repo.MatchProductIDs(context.Background(), shop, domain.RuleTree{Combinator: domain.CombinatorAny})
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProducts(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "title", "product_type", "vendor", "tags", "status", "price", "compare_at_price",
		"inventory_quantity", "weight_grams", "category_ids", "collection_ids", "created_at"}).
		AddRow("p1", "Summer Dress", "dress", "Acme", "{sale,summer}", "active", int64(4500), int64(5000), int64(3), int64(200), "{dresses}", "{summer}", created).
		AddRow("p2", "Coat", "", "Borealis", "{}", "active", int64(12000), int64(0), int64(0), int64(0), "{}", "{}", created)
	mock.ExpectQuery(regexp.QuoteMeta("FROM products p WHERE p.shop_id = $1 ORDER BY p.id")).
		WithArgs(shop).
		WillReturnRows(rows)

	products, err := repo.ListProducts(context.Background(), shop)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, []string{"sale", "summer"}, products[0].Tags)
	assert.Equal(t, []string{"dresses"}, products[0].CategoryIDs)
	assert.Equal(t, []string{"summer"}, products[0].CollectionIDs)
	assert.Equal(t, int64(4500), products[0].Price)
	assert.Equal(t, 3, products[0].InventoryQuantity)
	assert.Equal(t, shop, products[1].ShopID)
	assert.Empty(t, products[1].Tags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCollection(t *testing.T) {
	repo, mock := newMockRepo(t)
	synced := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(getCollectionSQL)).
		WithArgs(shop, "summer").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "type", "rules", "synced_at", "updated_at"}).
			AddRow("summer", "Summer", "AUTOMATIC", []byte(`{"combinator":"ALL","conditions":[{"field":"tag","operator":"equals","value":"summer"}]}`), synced, synced))
	mock.ExpectQuery(regexp.QuoteMeta(listMembersSQL)).
		WithArgs(shop, "summer").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "position"}).AddRow("p1", 0).AddRow("p4", 1))

	c, err := repo.Get(context.Background(), shop, "summer")
	require.NoError(t, err)
	assert.Equal(t, domain.CollectionAutomatic, c.Type)
	require.NotNil(t, c.Rules)
	assert.Equal(t, domain.RuleFieldTag, c.Rules.Conditions[0].Field)
	require.NotNil(t, c.SyncedAt)
	assert.True(t, c.SyncedAt.Equal(synced))
	assert.Equal(t, []domain.CollectionMember{{ProductID: "p1", Position: 0}, {ProductID: "p4", Position: 1}}, c.Members)

	mock.ExpectQuery(regexp.QuoteMeta(getCollectionSQL)).
		WithArgs(shop, "missing").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), shop, "missing")
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsNotFound())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncMembers(t *testing.T) {
	repo, mock := newMockRepo(t)
	synced := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockCollectionSQL)).
		WithArgs(shop, "summer").
		WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("AUTOMATIC"))
	mock.ExpectQuery(regexp.QuoteMeta(listMembersSQL)).
		WithArgs(shop, "summer").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "position"}).AddRow("p2", 0).AddRow("p1", 4))
	mock.ExpectExec(regexp.QuoteMeta(deleteMemberSQL)).
		WithArgs(shop, "summer", "p2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertMemberSQL)).
		WithArgs(shop, "summer", "p3", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(markSyncedSQL)).
		WithArgs(shop, "summer", synced).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	diff, err := repo.SyncMembers(context.Background(), shop, "summer", []string{"p1", "p3"}, synced)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, diff.Delete)
	assert.Equal(t, []domain.CollectionMember{{ProductID: "p3", Position: 5}}, diff.Insert)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncMembers_RollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockCollectionSQL)).
		WithArgs(shop, "curated").
		WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("MANUAL"))
	mock.ExpectRollback()
	_, err := repo.SyncMembers(context.Background(), shop, "curated", []string{"p1"}, time.Now())
	assert.Error(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockCollectionSQL)).
		WithArgs(shop, "missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()
	_, err = repo.SyncMembers(context.Background(), shop, "missing", nil, time.Now())
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsNotFound())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockCollectionSQL)).
		WithArgs(shop, "summer").
		WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("AUTOMATIC"))
	mock.ExpectQuery(regexp.QuoteMeta(listMembersSQL)).
		WithArgs(shop, "summer").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "position"}))
	mock.ExpectExec(regexp.QuoteMeta(insertMemberSQL)).
		WithArgs(shop, "summer", "p1", 0).
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})
	mock.ExpectRollback()
	_, err = repo.SyncMembers(context.Background(), shop, "summer", []string{"p1"}, time.Now())
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsUnavailable())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutProductWritesArrayLiterals(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO products")).
		WithArgs(shop, "p1", "Dress", "", "Acme", `{"sale","say \"hi\""}`, "active", int64(4500), int64(0), 1, 0, `{}`, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.PutProduct(context.Background(), domain.Product{
		ShopID: shop, ID: "p1", Title: "Dress", Vendor: "Acme", Tags: []string{"sale", `say "hi"`},
		Status: "active", Price: 4500, InventoryQuantity: 1, CreatedAt: created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWrapErrorClassifies(t *testing.T) {
	conflict := wrapError("op", &pgconn.PgError{Code: "23505"})
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(conflict, &repoErr))
	assert.True(t, repoErr.IsConflict())

	assert.ErrorIs(t, wrapError("op", context.Canceled), context.Canceled)
	assert.Nil(t, wrapError("op", nil))
}
