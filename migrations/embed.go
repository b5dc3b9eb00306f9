// Package migrations embeds the SQL schema migrations into the binary.
//
// Pass FS as database.Config.Migrations.
package migrations

import "embed"

// FS holds every YYYYMMDD_HHMMSS_name.{up,down}.sql file of the schema.
//
//go:embed *.sql
var FS embed.FS
