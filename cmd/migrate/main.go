package main

import (
	"flag"

	logrus "github.com/sirupsen/logrus"

	"tokentrust/pkg/config"
)

// migrate applies or rolls back the postgres schema under MIGRATIONS_PATH.
func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		logrus.Fatal("Failed to load settings: ", err)
	}
	settings.ConfigureLogging(false)

	direction := flag.String("direction", "up", "up applies all migrations, down rolls back one step")
	dir := flag.String("dir", settings.Database.MigrationsPath, "migrations directory")
	flag.Parse()

	if settings.Database.Driver != "postgres" {
		logrus.Fatalf("migrations target postgres, DB_DRIVER is %q", settings.Database.Driver)
	}
	if err := settings.Validate(); err != nil {
		logrus.Fatal("Invalid settings: ", err)
	}

	db, err := config.OpenDatabase(settings.Database)
	if err != nil {
		logrus.Fatal("Failed to connect to database: ", err)
	}
	defer config.CloseDatabase(db)

	switch *direction {
	case "up":
		err = config.ExecuteMigrations(db, *dir)
	case "down":
		err = config.RollbackMigration(db, *dir)
	default:
		logrus.Fatalf("unknown direction %q", *direction)
	}
	if err != nil {
		logrus.Fatal("Migration failed: ", err)
	}
	logrus.WithField("direction", *direction).Info("Migration finished")
}
