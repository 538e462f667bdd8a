package main

import (
	"errors"
	"flag"
	"log"
	"strconv"

	"github.com/dastarkhan/food-api/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dir := flag.String("path", "migrations", "Directory holding the migration files")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	cfg := config.Load()

	m, err := migrate.New("file://"+*dir, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer m.Close()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		// One step by default; dropping the whole schema needs an explicit count.
		err = m.Steps(-stepsArg(1))
	case "force":
		v := stepsArg(-1)
		if v < 0 {
			log.Fatal("Usage: migrate force <version>")
		}
		err = m.Force(v)
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			log.Fatalf("Failed to read version: %v", verr)
		}
		log.Printf("Schema version %d (dirty: %t)", v, dirty)
		return
	default:
		log.Fatalf("Unknown command %q (want up, down, force or version)", cmd)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Migration %s failed: %v", cmd, err)
	}
	log.Printf("Migration %s completed", cmd)
}

func stepsArg(fallback int) int {
	if flag.NArg() < 2 {
		return fallback
	}
	n, err := strconv.Atoi(flag.Arg(1))
	if err != nil {
		log.Fatalf("Invalid number %q: %v", flag.Arg(1), err)
	}
	return n
}
