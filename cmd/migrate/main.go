package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/Builder-Lawyers/billing-backend/migrations"
	"github.com/Builder-Lawyers/billing-backend/pkg/db"
	"github.com/Builder-Lawyers/billing-backend/pkg/env"
	"github.com/golang-migrate/migrate/v4"
)

const usage = `usage: migrate <command>

commands:
  up        apply all pending migrations
  down      roll back one migration
  goto N    migrate to version N
  status    print the current version`

func main() {
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	env.SetupEnvFile()
	m, err := db.NewMigrator(migrations.FS, db.NewConfig().GetMigrateURL())
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	if err = run(m, flag.Args()); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal(err)
	}
}

func run(m *migrate.Migrate, args []string) error {
	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Steps(-1)
	case "goto":
		if len(args) < 2 {
			return fmt.Errorf("goto needs a version")
		}
		version, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("error parsing version, %v", err)
		}
		return m.Migrate(uint(version))
	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("version %d, dirty %t\n", version, dirty)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}
