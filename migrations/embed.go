// Package migrations embeds SQL migration files into the binary.
//
// Importing this package registers the embedded files with the database
// package, so the bridge can migrate without the SQL on disk.
package migrations

import (
	"embed"

	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
