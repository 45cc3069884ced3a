// Database migration CLI.
//
// Usage:
//
//	go run cmd/migrate/main.go up           # Apply all pending migrations
//	go run cmd/migrate/main.go down         # Rollback last migration
//	go run cmd/migrate/main.go version      # Show current migration version
//	go run cmd/migrate/main.go force N      # Force version to N (fix dirty state)
//	go run cmd/migrate/main.go create NAME  # Create new migration files
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	migrationsPath := migrationsDir()

	if command == "create" {
		if len(os.Args) < 3 {
			log.Fatal("Usage: migrate create <migration_name>")
		}
		createMigration(migrationsPath, os.Args[2])
		return
	}
	if command == "help" {
		printUsage()
		return
	}

	m, err := migrate.New("file://"+migrationsPath, databaseURL())
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}
	defer m.Close()

	switch command {
	case "up":
		report(m.Up(), "migrations applied")
	case "down":
		report(m.Steps(-1), "rolled back one migration")
	case "down-all":
		report(m.Down(), "all migrations rolled back")
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Println("No migrations applied yet")
				return
			}
			log.Fatalf("Failed to read version: %v", err)
		}
		log.Printf("Version: %d (dirty: %v)", version, dirty)
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("Usage: migrate force <version>")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("Invalid version number: %s", os.Args[2])
		}
		report(m.Force(version), fmt.Sprintf("forced version to %d", version))
	default:
		log.Printf("Unknown command: %s", command)
		printUsage()
		os.Exit(1)
	}
}

func report(err error, success string) {
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No changes to apply")
			return
		}
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println(success)
}

func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := envOr("DB_USER", "postgres")
	password := envOr("DB_PASSWORD", "password")
	dbname := envOr("DB_NAME", "mocksmith")
	sslmode := envOr("DB_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, dbname, sslmode)
}

func migrationsDir() string {
	if path := os.Getenv("MIGRATIONS_PATH"); path != "" {
		return path
	}
	return "migrations"
}

func createMigration(dir, name string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("Failed to create migrations directory: %v", err)
	}

	version := time.Now().UTC().Format("20060102150405")
	for _, direction := range []string{"up", "down"} {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s.sql", version, name, direction))
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", path, err)
		}
		f.Close()
		log.Printf("Created %s", path)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Print(`
Mocksmith Database Migration Tool

Usage:
  migrate <command> [arguments]

Commands:
  up              Apply all pending migrations
  down            Rollback the last migration
  down-all        Rollback all migrations (WARNING: deletes all data!)
  version         Show current migration version
  force <N>       Force version to N (use to fix dirty state)
  create <name>   Create new migration files
  help            Show this help message

Environment Variables:
  DATABASE_URL    Full database connection URL
  DB_HOST         Database host (default: localhost)
  DB_PORT         Database port (default: 5432)
  DB_USER         Database user (default: postgres)
  DB_PASSWORD     Database password
  DB_NAME         Database name (default: mocksmith)
  DB_SSLMODE      SSL mode (default: disable)
  MIGRATIONS_PATH Migrations directory (default: migrations)
`)
}
