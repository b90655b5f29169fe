// Standalone migration runner. The server migrates automatically at
// boot; this tool covers rollbacks and CI.
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		migrationsPath = flag.String("migrations", "./migrations", "path to migration files")
		dbPath         = flag.String("db", "./data/hearth.db", "path to the sqlite database")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("usage: migrate [-migrations dir] [-db file] <up|down|version|force N>")
	}

	m, err := migrate.New(
		"file://"+*migrationsPath,
		fmt.Sprintf("sqlite3://%s?_foreign_keys=on", *dbPath),
	)
	if err != nil {
		log.Fatalf("failed to create migrator: %v", err)
	}

	switch cmd := flag.Arg(0); cmd {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("migrate up failed: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := m.Steps(-1); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("migrate down failed: %v", err)
		}
		log.Println("rolled back one migration")
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("failed to read version: %v", err)
		}
		log.Printf("version %d (dirty=%v)", version, dirty)
	case "force":
		if flag.NArg() < 2 {
			log.Fatal("force requires a version number")
		}
		v, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			log.Fatalf("invalid version: %v", err)
		}
		if err := m.Force(v); err != nil {
			log.Fatalf("force failed: %v", err)
		}
		log.Printf("forced version %d", v)
	default:
		log.Fatalf("unknown command %q, use up, down, version, or force", cmd)
	}
}
