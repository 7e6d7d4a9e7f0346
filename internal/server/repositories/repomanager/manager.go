package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/storeauth/internal/dbx"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/attempts"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/auditlog"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/otptokens"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/totpsecrets"
	"github.com/dmitrijs2005/storeauth/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX so that callers can
// use the same set of repositories inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	OtpTokens(db dbx.DBTX) otptokens.Repository
	Attempts(db dbx.DBTX) attempts.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	TotpSecrets(db dbx.DBTX) totpsecrets.Repository
	AuditLog(db dbx.DBTX) auditlog.Repository
}
