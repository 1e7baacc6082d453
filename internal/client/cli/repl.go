package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context) error
	Status(ctx context.Context) error
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	Logout(ctx context.Context) error
	Settings(ctx context.Context, args []string) error
}

// runREPL starts a simple read-eval-print loop for the otpkeeper CLI.
//
// It reads a line from reader, parses the first token as the command, and
// dispatches to methods on 'a'. Unknown commands are reported back to the
// user. The loop exits on EOF or when the user types "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Not logged in:
//	  - help             show available commands
//	  - login            authenticate
//	  - settings         show or change the server and accounts URLs
//	  - exit | quit      leave the program
//
//	Logged in:
//	  - help             show available commands
//	  - status           show session state
//	  - lock | unlock    drop or restore the master key
//	  - logout           end the session
//	  - settings         show or change the server and accounts URLs
//	  - exit | quit      leave the program
//
// Command handlers print their own results; the errors they return are
// printed here and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("otp %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var cmdErr error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: status, lock, unlock, logout, settings, exit")
			} else {
				printlnFn("Available commands: login, status, settings, exit")
			}

		case "login":
			cmdErr = a.Login(ctx)

		case "status":
			cmdErr = a.Status(ctx)

		case "lock":
			cmdErr = a.Lock(ctx)

		case "unlock":
			cmdErr = a.Unlock(ctx)

		case "logout":
			cmdErr = a.Logout(ctx)

		case "settings":
			cmdErr = a.Settings(ctx, args)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if cmdErr != nil && !isReported(cmdErr) {
			printlnFn("Error:", cmdErr)
		}
	}
}

// reportedError marks an error whose message the handler already printed.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func isReported(err error) bool {
	var r reportedError
	return errors.As(err, &r)
}
