package metadata

import (
	"context"
	"fmt"
	"log"

	"github.com/istefan/ahoi-api/internal/store"
)

// LoadAll reads all structures, fields and webhook subscriptions from
// the database and populates the registry.
func LoadAll(ctx context.Context, st *store.Store, reg *Registry) error {
	structures, err := loadStructures(ctx, st)
	if err != nil {
		return fmt.Errorf("load structures: %w", err)
	}

	subscriptions, err := loadSubscriptions(ctx, st)
	if err != nil {
		return fmt.Errorf("load webhooks: %w", err)
	}

	reg.Load(structures, subscriptions)

	log.Printf("Loaded %d structures, %d webhook subscriptions into registry",
		len(structures), len(subscriptions))
	return nil
}

// Reload is an alias for LoadAll, called after admin mutations.
func Reload(ctx context.Context, st *store.Store, reg *Registry) error {
	return LoadAll(ctx, st, reg)
}

func loadStructures(ctx context.Context, st *store.Store) ([]*Structure, error) {
	rows, err := store.QueryRows(ctx, st.DB,
		"SELECT id, name, slug, description FROM ahoi_structures ORDER BY slug")
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*Structure, len(rows))
	var structures []*Structure
	for _, row := range rows {
		s := &Structure{
			ID:          asInt64(row["id"]),
			Name:        asString(row["name"]),
			Slug:        asString(row["slug"]),
			Description: asString(row["description"]),
		}
		byID[s.ID] = s
		structures = append(structures, s)
	}

	fieldRows, err := store.QueryRows(ctx, st.DB,
		"SELECT id, structure_id, name, slug, type, is_required, default_value FROM ahoi_fields ORDER BY structure_id, id")
	if err != nil {
		return nil, err
	}
	for _, row := range fieldRows {
		parent := byID[asInt64(row["structure_id"])]
		if parent == nil {
			log.Printf("WARN: skipping orphan field %v (no parent structure)", row["slug"])
			continue
		}
		f := Field{
			ID:          asInt64(row["id"]),
			StructureID: parent.ID,
			Name:        asString(row["name"]),
			Slug:        asString(row["slug"]),
			Type:        asString(row["type"]),
			Required:    asBool(row["is_required"]),
		}
		if row["default_value"] != nil {
			v := asString(row["default_value"])
			f.DefaultValue = &v
		}
		parent.Fields = append(parent.Fields, f)
	}

	return structures, nil
}

func loadSubscriptions(ctx context.Context, st *store.Store) ([]*Subscription, error) {
	rows, err := store.QueryRows(ctx, st.DB,
		"SELECT id, target_url, event_name, structure_slug, condition, status FROM ahoi_webhooks ORDER BY id")
	if err != nil {
		return nil, err
	}

	subscriptions := make([]*Subscription, 0, len(rows))
	for _, row := range rows {
		subscriptions = append(subscriptions, &Subscription{
			ID:            asInt64(row["id"]),
			TargetURL:     asString(row["target_url"]),
			EventName:     asString(row["event_name"]),
			StructureSlug: asString(row["structure_slug"]),
			Condition:     asString(row["condition"]),
			Status:        asString(row["status"]),
		})
	}
	return subscriptions, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case float64:
		return b != 0
	}
	return false
}
