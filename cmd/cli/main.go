package main

import (
	"os"
	"strings"

	"github.com/nimasrn/call-billing/internal/app"
	"github.com/nimasrn/call-billing/internal/config"
	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/nimasrn/call-billing/pkg/pg"
)

// main.go [up|status] --env=.env --dir=./migrations
// Without --dir the MIGRATIONS_DIR setting is used.
func main() {
	defer logger.Sync()

	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pgConf := app.WriteDBConfig(config.Get())
	dir := getMigrationPath(config.Get())
	if dir == "" {
		os.Exit(1)
	}

	switch command() {
	case "status":
		err = pg.MigrationStatus(pgConf, dir)
	default:
		err = pg.Migrate(pgConf, dir)
	}
	if err != nil {
		logger.Error("migration: error running migrations", "error", err)
		os.Exit(1)
	}
}

func command() string {
	for _, v := range os.Args[1:] {
		if !strings.HasPrefix(v, "--") {
			return v
		}
	}
	return "up"
}

func getEnvPath() string {
	if p := app.EnvPath(os.Args); p != "" {
		return p
	}
	if _, err := os.Stat(".env"); err != nil {
		return ""
	}
	return ".env"
}

func getMigrationPath(c *config.Config) string {
	dir := app.MigrationsDir(os.Args, c)
	if _, err := os.Stat(dir); err != nil {
		logger.Error("failed to open the migrations dir", "dir", dir, "error", err)
		return ""
	}
	return dir
}
