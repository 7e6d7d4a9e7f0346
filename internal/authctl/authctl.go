// Package authctl implements the operator command line: schema migration,
// account provisioning, status changes, one-off retention runs and TOTP
// enrollment for support staff.
package authctl

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dmitrijs2005/storeauth/internal/common"
	"github.com/dmitrijs2005/storeauth/internal/flagx"
	"github.com/dmitrijs2005/storeauth/internal/server"
	"github.com/dmitrijs2005/storeauth/internal/server/models"
	"github.com/dmitrijs2005/storeauth/internal/server/rbac"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var ErrUsage = errors.New("usage: authctl <migrate|create-user|set-status|cleanup|totp-uri> [flags]")

type App struct {
	db   *sql.DB
	core *server.Core
	out  io.Writer
}

func NewApp(db *sql.DB, core *server.Core, out io.Writer) *App {
	return &App{db: db, core: core, out: out}
}

// Run dispatches args[0] to its command. Remaining args are the command's
// own flags; configuration flags are ignored here.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		if err := a.core.Repos.RunMigrations(ctx, a.db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(a.out, "migrations applied")
		return nil
	case "create-user":
		return a.createUser(ctx, rest)
	case "set-status":
		return a.setStatus(ctx, rest)
	case "cleanup":
		return a.cleanup(ctx)
	case "totp-uri":
		return a.totpURI(ctx, rest)
	}
	return ErrUsage
}

func (a *App) createUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "account email")
	username := fs.String("username", "", "optional username")
	role := fs.String("role", string(rbac.RoleCustomer), "role")
	verified := fs.Bool("verified", false, "activate without email verification")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-email", "-username", "-role", "-verified"})); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("create-user: -email is required")
	}

	password, err := GetPassword(a.out)
	if err != nil {
		return err
	}

	c, err := a.core.Credentials.Register(ctx, *email, *username, string(password), rbac.Role(*role))
	common.WipeByteArray(password)
	if err != nil {
		return fmt.Errorf("create-user: %w", err)
	}
	if *verified {
		if err := a.core.Credentials.MarkEmailVerified(ctx, c.ID); err != nil {
			return fmt.Errorf("create-user: %w", err)
		}
	}
	fmt.Fprintf(a.out, "created credential %d (%s)\n", c.ID, c.Email)
	return nil
}

func (a *App) setStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.Int64("id", 0, "credential id")
	status := fs.String("status", "", "pending|active|suspended")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-id", "-status"})); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("set-status: -id is required")
	}
	if err := a.core.Credentials.SetStatus(ctx, nil, *id, models.AccountStatus(*status)); err != nil {
		return fmt.Errorf("set-status: %w", err)
	}
	fmt.Fprintf(a.out, "credential %d is now %s\n", *id, *status)
	return nil
}

func (a *App) cleanup(ctx context.Context) error {
	r, err := a.core.Retention.RunOnce(ctx)
	fmt.Fprintf(a.out, "otp_tokens=%d attempts=%d sessions=%d audit=%d archived=%d\n",
		r.OtpTokens, r.Attempts, r.Sessions, r.Audit, r.Archived)
	return err
}

func (a *App) totpURI(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("totp-uri: expects a credential id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("totp-uri: %w", err)
	}
	_, uri, err := a.core.Auth.EnrollTotp(ctx, id)
	if err != nil {
		return fmt.Errorf("totp-uri: %w", err)
	}
	fmt.Fprintln(a.out, uri)
	return nil
}

// GetPassword prompts on w and reads a password from the terminal without
// echo. The caller should wipe the returned slice.
func GetPassword(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Enter password: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}
