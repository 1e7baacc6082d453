package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/otpkeeper/internal/client/config"
	"github.com/dmitrijs2005/otpkeeper/internal/client/messaging"
	"github.com/dmitrijs2005/otpkeeper/internal/client/session"
	"github.com/dmitrijs2005/otpkeeper/internal/common"
)

// Status prints the session state.
func (a *App) Status(ctx context.Context) error {
	if err := a.refresh(ctx); err != nil {
		return err
	}
	switch {
	case !a.auth.IsLoggedIn:
		fmt.Fprintln(a.out, "Not logged in")
	case a.auth.IsUnlocked:
		fmt.Fprintf(a.out, "Logged in as %s (unlocked)\n", a.auth.Email)
	default:
		fmt.Fprintf(a.out, "Logged in as %s (locked)\n", a.auth.Email)
	}
	return nil
}

// Lock drops the master key but keeps the session.
func (a *App) Lock(ctx context.Context) error {
	if _, err := a.send(ctx, messaging.TypeLock, nil); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Locked")
	return a.refresh(ctx)
}

// Unlock prompts for the password and unlocks the session.
func (a *App) Unlock(ctx context.Context) error {
	pw, err := getPassword(a.reader, a.out, "Password to unlock")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	if _, err := a.send(ctx, messaging.TypeUnlock, messaging.Unlock{Password: string(pw)}); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Unlocked")
	return a.refresh(ctx)
}

// Logout ends the session.
func (a *App) Logout(ctx context.Context) error {
	if _, err := a.send(ctx, messaging.TypeLogout, nil); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return a.refresh(ctx)
}

// Settings prints the endpoint settings, or changes one when given
// "server <url>" or "accounts <url>". An empty url restores the default.
func (a *App) Settings(ctx context.Context, args []string) error {
	var (
		data any
		err  error
	)
	if len(args) == 0 {
		data, err = a.send(ctx, messaging.TypeGetSettings, nil)
	} else {
		var patch config.SettingsPatch
		value := ""
		if len(args) > 1 {
			value = args[1]
		}
		switch args[0] {
		case "server":
			patch.ServerURL = &value
		case "accounts":
			patch.AccountsURL = &value
		default:
			fmt.Fprintln(a.out, "Usage: settings [server|accounts <url>]")
			return nil
		}
		data, err = a.send(ctx, messaging.TypeSetSettings, patch)
	}
	if err != nil {
		return err
	}

	st, ok := data.(config.Settings)
	if !ok {
		return fmt.Errorf("unexpected settings payload %T", data)
	}
	fmt.Fprintf(a.out, "server:   %s\naccounts: %s\n", st.ServerURL, st.AccountsURL)
	return nil
}

func (a *App) refresh(ctx context.Context) error {
	data, err := a.send(ctx, messaging.TypeGetAuthState, nil)
	if err != nil {
		return err
	}
	st, ok := data.(session.AuthState)
	if !ok {
		return fmt.Errorf("unexpected auth state payload %T", data)
	}
	a.auth = st
	return nil
}

// send routes a message to the router as the App's own sender. Handler
// failures are printed and returned as errors.
func (a *App) send(ctx context.Context, typ string, payload any) (any, error) {
	msg := messaging.Message{Type: typ}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = b
	}

	resp, err := a.router.Handle(ctx, a.sender, msg)
	if err != nil {
		a.log.Error(ctx, "message rejected", "type", typ, "error", err)
		return nil, err
	}
	if !resp.Success {
		fmt.Fprintln(a.out, "Error:", resp.Error)
		return nil, reportedError{errors.New(resp.Error)}
	}
	return resp.Data, nil
}
