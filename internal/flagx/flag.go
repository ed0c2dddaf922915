// Package flagx lets several components parse their own flags out of one
// command line without tripping over each other's flags.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs keeps only the flags named in allowed (names without dashes)
// together with their values. Both "-name" and "--name" spellings match, and
// both "-name value" and "-name=value" forms are recognised. A token that
// starts with '-' is never consumed as a value.
//
//	FilterArgs([]string{"-a", ":8080", "--config=x.json", "-v"}, []string{"config"})
//	// => []string{"--config=x.json"}
func FilterArgs(args []string, allowed []string) []string {
	names := make(map[string]struct{}, len(allowed))
	for _, n := range allowed {
		names[strings.TrimLeft(n, "-")] = struct{}{}
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name, _, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if _, ok := names[name]; !ok {
			continue
		}
		out = append(out, arg)
		if hasValue {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// ConfigPath returns the value of -c / -config found in args, or "" when
// neither is present.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to JSON config file")
	fs.StringVar(&path, "c", "", "path to JSON config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"c", "config"}))

	return path
}
