package cli

import (
	"context"
	"fmt"
)

func (a *App) getStatus() string {
	if !a.auth.IsLoggedIn {
		return ""
	}
	s := "locked"
	if a.auth.IsUnlocked {
		s = "unlocked"
	}
	if a.auth.Email != "" {
		s = a.auth.Email + " " + s
	}
	return fmt.Sprintf("(%s)", s)
}

// Root prints a welcome line, offers a login when there is no session and
// runs the REPL until the user exits.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "Welcome to otpkeeper (type 'help' for commands)")

	if err := a.refresh(ctx); err != nil {
		a.log.Warn(ctx, "could not read session state", "error", err)
	}
	if !a.auth.IsLoggedIn {
		if err := a.Login(ctx); err != nil {
			a.log.Warn(ctx, "login aborted", "error", err)
		}
	}

	runREPL(ctx, a, a.getStatus, a.reader)
}
