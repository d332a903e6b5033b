package remoteexec

import "strings"

// Output is a parsed script result in the line-prefix protocol the
// provisioning scripts speak: every line of interest is "PREFIX: value" or a
// bare marker like USER_NOT_FOUND. Unrecognized lines are carried but
// ignored by the accessors.
type Output struct {
	lines []string
}

// ParseOutput splits raw script output into trimmed lines.
func ParseOutput(raw string) Output {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return Output{lines: lines}
}

// Value returns the value of the first "prefix value" line.
func (o Output) Value(prefix string) (string, bool) {
	for _, line := range o.lines {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// Values returns every value carried under the prefix, in output order.
func (o Output) Values(prefix string) []string {
	var out []string
	for _, line := range o.lines {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			out = append(out, strings.TrimSpace(rest))
		}
	}
	return out
}

// Has reports whether a bare marker line is present.
func (o Output) Has(marker string) bool {
	for _, line := range o.lines {
		if line == marker || strings.HasPrefix(line, marker) {
			return true
		}
	}
	return false
}

// List parses the prefix's value as a comma-separated list, dropping empty
// entries. An absent or empty line yields nil.
func (o Output) List(prefix string) []string {
	v, ok := o.Value(prefix)
	if !ok || v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Success returns the SUCCESS: message when the script reported one.
func (o Output) Success() (string, bool) {
	return o.Value("SUCCESS:")
}

// Errors returns every ERROR: line's message.
func (o Output) Errors() []string {
	return o.Values("ERROR:")
}
