package engine

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/istefan/ahoi-api/internal/metadata"
	"github.com/istefan/ahoi-api/internal/store"
)

// parsePlan runs ParseListParams through a real Fiber request so query
// parsing behaves exactly like in production.
func parsePlan(t *testing.T, target string) (*ListPlan, error) {
	t.Helper()
	s := testStructure()

	var plan *ListPlan
	var parseErr error

	app := fiber.New()
	app.Get("/books", func(c *fiber.Ctx) error {
		plan, parseErr = ParseListParams(c, s)
		return nil
	})

	resp, err := app.Test(httptest.NewRequest("GET", target, nil), -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return plan, parseErr
}

func TestParseListParams_Defaults(t *testing.T) {
	plan, err := parsePlan(t, "/books")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Sort != "id" || plan.Order != "ASC" || plan.Page != 1 || plan.PerPage != 20 {
		t.Fatalf("unexpected defaults: %+v", plan)
	}
}

func TestParseListParams_Explicit(t *testing.T) {
	plan, err := parsePlan(t, "/books?_sort=title&_order=desc&_limit=5&_page=3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Sort != "title" || plan.Order != "DESC" || plan.PerPage != 5 || plan.Page != 3 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestParseListParams_LimitCap(t *testing.T) {
	plan, err := parsePlan(t, "/books?_limit=5000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.PerPage != maxPerPage {
		t.Fatalf("expected per page capped at %d, got %d", maxPerPage, plan.PerPage)
	}
}

func TestParseListParams_EqualityFilter(t *testing.T) {
	plan, err := parsePlan(t, "/books?title=Dune&pages=412")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %+v", plan.Filters)
	}
	got := map[string]any{}
	for _, f := range plan.Filters {
		got[f.Field] = f.Value
	}
	if got["title"] != "Dune" {
		t.Fatalf("unexpected title filter: %v", got["title"])
	}
	if got["pages"] != int64(412) {
		t.Fatalf("expected pages coerced to int64, got %T %v", got["pages"], got["pages"])
	}
}

func TestParseListParams_UndeclaredFilterIgnored(t *testing.T) {
	plan, err := parsePlan(t, "/books?publisher=Gollancz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Filters) != 0 {
		t.Fatalf("expected undeclared param ignored, got %+v", plan.Filters)
	}
}

func TestParseListParams_InvalidFilterValue(t *testing.T) {
	_, err := parsePlan(t, "/books?pages=lots")
	appErr, ok := err.(*AppError)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != "INVALID_PAYLOAD" || appErr.Status != 400 {
		t.Fatalf("unexpected error: %+v", appErr)
	}
}

func TestParseListParams_ReservedSortColumn(t *testing.T) {
	plan, err := parsePlan(t, "/books?_sort=created_at")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Sort != "created_at" {
		t.Fatalf("expected created_at sort, got %s", plan.Sort)
	}
}

func TestParseListParams_UnknownSortField(t *testing.T) {
	_, err := parsePlan(t, "/books?_sort=password")
	appErr, ok := err.(*AppError)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != "UNKNOWN_FIELD" || appErr.Status != 400 {
		t.Fatalf("unexpected error: %+v", appErr)
	}
}

func TestParseListParams_InvalidOrder(t *testing.T) {
	_, err := parsePlan(t, "/books?_order=sideways")
	appErr, ok := err.(*AppError)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != "INVALID_PAYLOAD" {
		t.Fatalf("unexpected error code: %s", appErr.Code)
	}
}

func TestBuildSelectSQL_Postgres(t *testing.T) {
	dialect := store.NewDialect("postgres")
	owner := int64(7)
	plan := &ListPlan{
		Structure: testStructure(),
		Sort:      "title",
		Order:     "DESC",
		Page:      2,
		PerPage:   10,
		OwnerID:   &owner,
	}

	q := BuildSelectSQL(dialect, plan)
	want := "SELECT * FROM ahoi_data_books WHERE owner_id = $1 ORDER BY title DESC LIMIT $2 OFFSET $3"
	if q.SQL != want {
		t.Fatalf("sql mismatch:\n got: %s\nwant: %s", q.SQL, want)
	}
	if len(q.Params) != 3 || q.Params[0] != int64(7) || q.Params[1] != 10 || q.Params[2] != 10 {
		t.Fatalf("unexpected params: %v", q.Params)
	}
}

func TestBuildSelectSQL_SQLiteUnscoped(t *testing.T) {
	dialect := store.NewDialect("sqlite")
	plan := &ListPlan{
		Structure: testStructure(),
		Sort:      "id",
		Order:     "ASC",
		Page:      1,
		PerPage:   20,
	}

	q := BuildSelectSQL(dialect, plan)
	want := "SELECT * FROM ahoi_data_books ORDER BY id ASC LIMIT ?1 OFFSET ?2"
	if q.SQL != want {
		t.Fatalf("sql mismatch:\n got: %s\nwant: %s", q.SQL, want)
	}
	if len(q.Params) != 2 {
		t.Fatalf("unexpected params: %v", q.Params)
	}
}

func TestBuildSelectSQL_WithFilters(t *testing.T) {
	dialect := store.NewDialect("postgres")
	owner := int64(7)
	plan := &ListPlan{
		Structure: testStructure(),
		Filters:   []FilterClause{{Field: "title", Value: "Dune"}},
		Sort:      "id",
		Order:     "ASC",
		Page:      1,
		PerPage:   20,
		OwnerID:   &owner,
	}

	q := BuildSelectSQL(dialect, plan)
	want := "SELECT * FROM ahoi_data_books WHERE owner_id = $1 AND title = $2 ORDER BY id ASC LIMIT $3 OFFSET $4"
	if q.SQL != want {
		t.Fatalf("sql mismatch:\n got: %s\nwant: %s", q.SQL, want)
	}
	if len(q.Params) != 4 || q.Params[1] != "Dune" {
		t.Fatalf("unexpected params: %v", q.Params)
	}
}

func TestBuildCountSQL(t *testing.T) {
	dialect := store.NewDialect("postgres")
	owner := int64(3)
	plan := &ListPlan{Structure: testStructure(), OwnerID: &owner}

	q := BuildCountSQL(dialect, plan)
	want := "SELECT COUNT(*) AS total FROM ahoi_data_books WHERE owner_id = $1"
	if q.SQL != want {
		t.Fatalf("sql mismatch:\n got: %s\nwant: %s", q.SQL, want)
	}
	if len(q.Params) != 1 {
		t.Fatalf("unexpected params: %v", q.Params)
	}
}

func TestBuildCountSQL_WithFilters(t *testing.T) {
	dialect := store.NewDialect("sqlite")
	plan := &ListPlan{
		Structure: testStructure(),
		Filters:   []FilterClause{{Field: "in_print", Value: true}},
	}

	q := BuildCountSQL(dialect, plan)
	want := "SELECT COUNT(*) AS total FROM ahoi_data_books WHERE in_print = ?1"
	if q.SQL != want {
		t.Fatalf("sql mismatch:\n got: %s\nwant: %s", q.SQL, want)
	}
	if len(q.Params) != 1 || q.Params[0] != true {
		t.Fatalf("unexpected params: %v", q.Params)
	}
}

func TestTableNameNormalizesHyphens(t *testing.T) {
	s := &metadata.Structure{Slug: "blog-posts"}
	if got := s.TableName(); got != "ahoi_data_blog_posts" {
		t.Fatalf("unexpected table name: %s", got)
	}
}
