// Package migrations embeds the goose SQL migrations for the credential store.
package migrations

import "embed"

// Migrations holds every *.sql migration, applied in version order by goose.
//
//go:embed *.sql
var Migrations embed.FS
