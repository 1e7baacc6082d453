package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/otpkeeper/internal/client/login"
)

// Input seams; tests replace them with scripted answers.
var getLine = ReadLine
var getPassword = ReadPassword

const cmdCancel = "cancel"

// Login runs one login attempt to completion, prompting for whatever the
// current step needs. Step errors are printed and the step is asked again.
// Typing "cancel" at any text prompt abandons the attempt.
func (a *App) Login(ctx context.Context) error {
	s := a.flow.State()
	if s.Step != login.StepEmail || s.Busy {
		s, _ = a.flow.Dispatch(ctx, login.Cancel{})
	}

	for {
		if s.Error != "" {
			fmt.Fprintln(a.out, "Error:", s.Error)
		}
		if s.Step == login.StepSuccess {
			a.refresh(ctx)
			fmt.Fprintf(a.out, "Logged in as %s\n", a.auth.Email)
			return nil
		}

		ev, err := a.ask(s)
		if err != nil {
			_, _ = a.flow.Dispatch(ctx, login.Cancel{})
			return err
		}
		if _, ok := ev.(login.Cancel); ok {
			_, _ = a.flow.Dispatch(ctx, ev)
			fmt.Fprintln(a.out, "Login cancelled")
			return nil
		}

		// a passkey result may have arrived while we were waiting for input
		if cur := a.flow.State(); cur.Step != s.Step || cur.PasskeyGen != s.PasskeyGen {
			s = cur
			continue
		}

		s, err = a.flow.Dispatch(ctx, ev)
		if err != nil && !errors.Is(err, login.ErrBusy) {
			return err
		}
	}
}

// ask prompts for the input of step s and returns the event to dispatch.
func (a *App) ask(s login.State) (login.Event, error) {
	switch s.Step {
	case login.StepEmail:
		email, err := a.readLine("Enter email")
		if err != nil || email == cmdCancel {
			return login.Cancel{}, err
		}
		return login.SubmitEmail{Email: email}, nil

	case login.StepPassword, login.StepPasswordDecrypt:
		pw, err := getPassword(a.reader, a.out, "Password")
		if err != nil {
			return nil, err
		}
		return login.SubmitPassword{Password: pw}, nil

	case login.StepEmailOTT:
		code, err := a.readLine(fmt.Sprintf("Enter the code sent to %s ('resend' to send a new one)", s.Email))
		switch {
		case err != nil, code == cmdCancel:
			return login.Cancel{}, err
		case code == "resend":
			return login.ResendCode{}, nil
		}
		return login.SubmitCode{Code: code}, nil

	case login.StepTwoFactor:
		code, err := a.readLine("Enter the code from your authenticator app")
		if err != nil || code == cmdCancel {
			return login.Cancel{}, err
		}
		return login.SubmitCode{Code: code}, nil

	case login.StepPasskeyChoice:
		choice, err := a.readLine("Verify with 'passkey' or 'totp'?")
		if err != nil || choice == cmdCancel {
			return login.Cancel{}, err
		}
		if strings.HasPrefix(choice, "p") {
			return login.ChoosePasskey{}, nil
		}
		return login.ChooseTwoFactor{}, nil

	case login.StepPasskey:
		return a.askPasskey(s)
	}
	return nil, fmt.Errorf("unexpected login step %s", s.Step)
}

func (a *App) askPasskey(s login.State) (login.Event, error) {
	prompt := "Press Enter once verified ('retry' opens a new link)"
	if s.CanRetryPasskey() {
		prompt = "Type 'retry' to start over"
	}

	a.awaitingPasskey.Store(true)
	answer, err := a.readLine(prompt)
	a.awaitingPasskey.Store(false)

	switch {
	case err != nil, answer == cmdCancel:
		return login.Cancel{}, err
	case answer == "retry":
		return login.RetryPasskey{}, nil
	}
	return login.CheckPasskey{}, nil
}

// observe is the login flow observer. It runs on the dispatching goroutine,
// which for passkey polling is not the REPL's.
func (a *App) observe(s login.State) {
	switch {
	case s.Busy && (s.Step == login.StepPassword || s.Step == login.StepPasswordDecrypt):
		fmt.Fprintln(a.out, "Verifying password...")
	case s.Step == login.StepSuccess && a.awaitingPasskey.Load():
		fmt.Fprintln(a.out, "\nPasskey verified. Press Enter to continue.")
	}
}

func (a *App) readLine(prompt string) (string, error) {
	return getLine(a.reader, a.out, prompt)
}
