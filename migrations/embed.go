// Package migrations embeds the record store SQL migrations into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
