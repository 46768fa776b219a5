//go:build integration

// Package pgtest runs an embedded PostgreSQL for integration tests. Each
// test package passes its own port, since `go test ./...` runs packages in
// parallel processes.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/swasthyasetu/termbridge/internal/platform/db"
)

const (
	testDB       = "termbridge"
	testUser     = "postgres"
	testPassword = "postgres"
)

// Server is a started embedded database.
type Server struct {
	DSN string
	pg  *embeddedpostgres.EmbeddedPostgres
	dir string
}

// Start boots PostgreSQL 16 on port. Call Stop when the tests finish.
func Start(port uint32) (*Server, error) {
	dir, err := os.MkdirTemp("", "termbridge-pg-*")
	if err != nil {
		return nil, err
	}
	pg := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Database(testDB).
			Username(testUser).
			Password(testPassword).
			Version(embeddedpostgres.V16).
			RuntimePath(filepath.Join(dir, "runtime")).
			StartTimeout(30 * time.Second),
	)
	if err := pg.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("start embedded postgres: %w", err)
	}
	return &Server{
		DSN: fmt.Sprintf("postgresql://%s:%s@localhost:%d/%s?sslmode=disable", testUser, testPassword, port, testDB),
		pg:  pg,
		dir: dir,
	}, nil
}

func (s *Server) Stop() error {
	defer os.RemoveAll(s.dir)
	return s.pg.Stop()
}

// Main wraps testing.M: it starts the database, stores it in *srv, runs
// the tests and exits.
func Main(m *testing.M, port uint32, srv **Server) {
	s, err := Start(port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	*srv = s
	code := m.Run()
	if err := s.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to stop embedded postgres: %v\n", err)
	}
	os.Exit(code)
}

// Pool connects to the server, resets the schema and applies the embedded
// migrations.
func (s *Server) Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, s.DSN)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `DROP SCHEMA public CASCADE; CREATE SCHEMA public`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := db.NewMigrator(pool, db.Migrations(), zerolog.Nop()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}
