package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// printTabs "opens" the passkey verification page by printing its URL for
// the user to open in a browser. There is nothing to close.
type printTabs struct {
	out io.Writer
}

func newPrintTabs(out io.Writer) *printTabs {
	return &printTabs{out: out}
}

func (p *printTabs) Open(_ context.Context, url string) (string, error) {
	if _, err := fmt.Fprintf(p.out, "Open this link in your browser to verify with your passkey:\n  %s\n", url); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

func (p *printTabs) Close(context.Context, string) error { return nil }
