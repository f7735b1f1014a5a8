package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/istefan/ahoi-api/internal/metadata"
	"github.com/istefan/ahoi-api/internal/store"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ListPlan captures the _sort/_order/_limit/_page parameters of a list
// request plus the ownership scope derived from the caller.
type ListPlan struct {
	Structure *metadata.Structure
	Filters   []FilterClause
	Sort      string
	Order     string // ASC or DESC
	Page      int
	PerPage   int
	OwnerID   *int64 // non-nil restricts rows to this owner
}

// FilterClause is an equality condition on a declared field.
type FilterClause struct {
	Field string
	Value any
}

type QueryResult struct {
	SQL    string
	Params []any
}

// ParseListParams parses Fiber query parameters into a ListPlan.
func ParseListParams(c *fiber.Ctx, s *metadata.Structure) (*ListPlan, error) {
	plan := &ListPlan{
		Structure: s,
		Sort:      "id",
		Order:     "ASC",
		Page:      1,
		PerPage:   defaultPerPage,
	}

	// Any parameter not starting with '_' is an equality filter on a
	// declared field; everything else is ignored.
	for key, val := range c.Queries() {
		if strings.HasPrefix(key, "_") || !s.HasField(key) {
			continue
		}
		coerced, err := coerceFieldValue(s.GetField(key), val)
		if err != nil {
			return nil, NewAppError("INVALID_PAYLOAD", 400, fmt.Sprintf("Invalid filter value for %s: %v", key, err))
		}
		plan.Filters = append(plan.Filters, FilterClause{Field: key, Value: coerced})
	}

	if sort := c.Query("_sort"); sort != "" {
		if !s.HasField(sort) && !metadata.IsReservedColumn(sort) {
			return nil, NewAppError("UNKNOWN_FIELD", 400, fmt.Sprintf("Unknown sort field: %s", sort))
		}
		plan.Sort = sort
	}

	if order := c.Query("_order"); order != "" {
		switch strings.ToUpper(order) {
		case "ASC", "DESC":
			plan.Order = strings.ToUpper(order)
		default:
			return nil, NewAppError("INVALID_PAYLOAD", 400, fmt.Sprintf("Invalid sort order: %s", order))
		}
	}

	if l := c.Query("_limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			plan.PerPage = v
			if plan.PerPage > maxPerPage {
				plan.PerPage = maxPerPage
			}
		}
	}

	if p := c.Query("_page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			plan.Page = v
		}
	}

	return plan, nil
}

// BuildSelectSQL builds a parameterized SELECT statement from the list plan.
func BuildSelectSQL(dialect store.Dialect, plan *ListPlan) QueryResult {
	pb := dialect.NewParamBuilder()

	sql := "SELECT * FROM " + plan.Structure.TableName()
	if where := buildWhere(plan, pb); where != "" {
		sql += where
	}

	sql += fmt.Sprintf(" ORDER BY %s %s", plan.Sort, plan.Order)

	limit := pb.Add(plan.PerPage)
	offset := pb.Add((plan.Page - 1) * plan.PerPage)
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", limit, offset)

	return QueryResult{SQL: sql, Params: pb.Params()}
}

// BuildCountSQL builds a COUNT query with the same scope as the select.
func BuildCountSQL(dialect store.Dialect, plan *ListPlan) QueryResult {
	pb := dialect.NewParamBuilder()

	sql := "SELECT COUNT(*) AS total FROM " + plan.Structure.TableName()
	if where := buildWhere(plan, pb); where != "" {
		sql += where
	}

	return QueryResult{SQL: sql, Params: pb.Params()}
}

func buildWhere(plan *ListPlan, pb store.ParamBuilder) string {
	var clauses []string
	if plan.OwnerID != nil {
		clauses = append(clauses, "owner_id = "+pb.Add(*plan.OwnerID))
	}
	for _, f := range plan.Filters {
		clauses = append(clauses, f.Field+" = "+pb.Add(f.Value))
	}
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}
