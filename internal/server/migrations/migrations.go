// Package migrations embeds the goose SQL migrations. They are applied as an
// explicit step (authctl migrate) before the server takes traffic; the
// runtime never creates or alters tables.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
