// Package flagx lets independent flag sets share one command line.
//
// The otpkeeper binary parses its settings flags and the config file flag in
// separate passes; each pass picks its own arguments out of os.Args and
// ignores the rest.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// Pick returns the arguments in args that set one of the named flags,
// keeping values given as a following argument. Names are written with a
// single dash; both "-name" and "--name" spellings match, with or without
// "=value". Scanning stops at a bare "--".
func Pick(args []string, names ...string) []string {
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[strings.TrimLeft(n, "-")] = struct{}{}
	}

	picked := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name, _, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		if _, ok := known[name]; !ok {
			continue
		}

		picked = append(picked, arg)
		if !hasValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			picked = append(picked, args[i+1])
			i++
		}
	}
	return picked
}

// ConfigPath returns the JSON config file named by -c or -config in args,
// or "" when neither is given. A later occurrence wins.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to JSON config file")
	fs.StringVar(&path, "c", "", "path to JSON config file (short)")
	_ = fs.Parse(Pick(args, "-c", "-config"))

	return path
}
