package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Bootstrap creates the engine's own tables and seeds the default
// administrator account when no users exist yet.
func (s *Store) Bootstrap(ctx context.Context) error {
	ddl := s.Dialect.SystemTablesSQL()
	if s.Dialect.Name() == "sqlite" {
		// modernc.org/sqlite executes one statement per Exec call.
		for _, stmt := range strings.Split(ddl, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("bootstrap system tables: %w", err)
			}
		}
	} else {
		if _, err := s.DB.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("bootstrap system tables: %w", err)
		}
	}
	if err := s.seedAdminUser(ctx); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context) error {
	var count int
	err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM ahoi_users").Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	pb := s.Dialect.NewParamBuilder()
	now := Now()
	sqlStr := fmt.Sprintf(
		`INSERT INTO ahoi_users (username, email, display_name, password_hash, role, capabilities, meta, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add("admin"), pb.Add("admin@localhost"), pb.Add("Administrator"),
		pb.Add(string(hashBytes)), pb.Add("administrator"), pb.Add("[]"), pb.Add("{}"),
		pb.Add(now), pb.Add(now),
	)
	if _, err := s.DB.ExecContext(ctx, sqlStr, pb.Params()...); err != nil {
		return err
	}

	log.Println("WARNING: Default admin user created (admin / changeme) - change the password immediately.")
	return nil
}
