package postgres

import (
	"fmt"
	"strconv"
	"strings"

	domain "github.com/shopforge/engine/internal/domain"
)

var (
	textColumns = map[domain.RuleField]string{
		domain.RuleFieldTitle:       "p.title",
		domain.RuleFieldProductType: "p.product_type",
		domain.RuleFieldVendor:      "p.vendor",
		domain.RuleFieldStatus:      "p.status",
	}
	numericColumns = map[domain.RuleField]string{
		domain.RuleFieldPrice:             "p.price",
		domain.RuleFieldCompareAtPrice:    "p.compare_at_price",
		domain.RuleFieldInventoryQuantity: "p.inventory_quantity",
		domain.RuleFieldWeight:            "p.weight_grams",
	}
	arrayColumns = map[domain.RuleField]string{
		domain.RuleFieldTag:        "p.tags",
		domain.RuleFieldCategoryID: "p.category_ids",
	}
)

// ruleQuery accumulates positional arguments while a rule tree is rendered.
type ruleQuery struct {
	args []any
}

func (q *ruleQuery) bind(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// buildMatchQuery renders the rule tree as a product id query for the shop. Text comparisons are
// case-insensitive; array fields match when any element satisfies the operator, and the negated
// text operators require that none does. A tree without conditions never reaches the database.
func buildMatchQuery(shopID string, tree domain.RuleTree) (string, []any, error) {
	if len(tree.Conditions) == 0 {
		return "", nil, fmt.Errorf("postgres: rule tree has no conditions")
	}
	var joiner string
	switch tree.Combinator {
	case domain.CombinatorAll:
		joiner = " AND "
	case domain.CombinatorAny:
		joiner = " OR "
	default:
		return "", nil, fmt.Errorf("postgres: unknown combinator %q", tree.Combinator)
	}

	q := &ruleQuery{}
	shop := q.bind(shopID)
	clauses := make([]string, 0, len(tree.Conditions))
	for i, cond := range tree.Conditions {
		clause, err := q.condition(cond)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: condition %d: %w", i, err)
		}
		clauses = append(clauses, "("+clause+")")
	}
	sql := fmt.Sprintf("SELECT p.id FROM products p WHERE p.shop_id = %s AND (%s) ORDER BY p.id", shop, strings.Join(clauses, joiner))
	return sql, q.args, nil
}

func (q *ruleQuery) condition(cond domain.RuleCondition) (string, error) {
	if column, ok := numericColumns[cond.Field]; ok {
		want, err := strconv.ParseInt(strings.TrimSpace(cond.Value), 10, 64)
		if err != nil {
			return "", fmt.Errorf("field %s needs an integer value, got %q", cond.Field, cond.Value)
		}
		var op string
		switch cond.Operator {
		case domain.RuleEquals:
			op = "="
		case domain.RuleNotEquals:
			op = "<>"
		case domain.RuleGreaterThan:
			op = ">"
		case domain.RuleLessThan:
			op = "<"
		default:
			return "", fmt.Errorf("operator %s is not supported on numeric fields", cond.Operator)
		}
		return fmt.Sprintf("%s %s %s", column, op, q.bind(want)), nil
	}

	want := strings.ToLower(cond.Value)
	if column, ok := textColumns[cond.Field]; ok {
		return q.textPredicate("LOWER("+column+")", cond.Operator, want)
	}
	if column, ok := arrayColumns[cond.Field]; ok {
		positive, exists := cond.Operator, "EXISTS"
		switch cond.Operator {
		case domain.RuleNotEquals:
			positive, exists = domain.RuleEquals, "NOT EXISTS"
		case domain.RuleNotContains:
			positive, exists = domain.RuleContains, "NOT EXISTS"
		}
		predicate, err := q.textPredicate("LOWER(v.val)", positive, want)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (SELECT 1 FROM unnest(%s) AS v(val) WHERE %s)", exists, column, predicate), nil
	}
	return "", fmt.Errorf("unknown field %q", cond.Field)
}

func (q *ruleQuery) textPredicate(expr string, op domain.RuleOperator, want string) (string, error) {
	switch op {
	case domain.RuleEquals:
		return fmt.Sprintf("%s = %s", expr, q.bind(want)), nil
	case domain.RuleNotEquals:
		return fmt.Sprintf("%s <> %s", expr, q.bind(want)), nil
	case domain.RuleContains:
		return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, expr, q.bind("%"+escapeLike(want)+"%")), nil
	case domain.RuleNotContains:
		return fmt.Sprintf(`%s NOT LIKE %s ESCAPE '\'`, expr, q.bind("%"+escapeLike(want)+"%")), nil
	case domain.RuleStartsWith:
		return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, expr, q.bind(escapeLike(want)+"%")), nil
	case domain.RuleEndsWith:
		return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, expr, q.bind("%"+escapeLike(want))), nil
	}
	return "", fmt.Errorf("operator %s is not supported on text fields", op)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
