// Package migrations embeds the checkout schema, applied at startup by
// database.RunMigrations.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files in version order.
//
//go:embed *.sql
var FS embed.FS
