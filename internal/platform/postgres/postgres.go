package postgres

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	connectAttempts = 10
	retryDelay      = 2 * time.Second
)

// Connect opens the database and waits for it to accept connections.
func Connect(url string) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error
	for i := 0; i < connectAttempts; i++ {
		db, err = sqlx.Connect("postgres", url)
		if err == nil {
			return db, nil
		}
		log.Printf("Waiting for DB... (%d/%d)", i+1, connectAttempts)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("could not connect to DB: %w", err)
}

// Migrate applies every pending migration from source.
func Migrate(source, url string) error {
	m, err := migrate.New(source, url)
	if err != nil {
		return fmt.Errorf("migration init failed: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	log.Println("Migrations applied successfully!")
	return nil
}
