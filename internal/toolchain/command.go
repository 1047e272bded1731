// Package toolchain implements the burn-risk collaborators on top of the
// external GIS and fire-spread tools. Each tool is an argument template whose
// {placeholders} are filled in per invocation and run with exec.CommandContext.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// ErrNotConfigured is returned when a step's command template is empty.
var ErrNotConfigured = errors.New("command not configured")

// Command is an argument template, e.g.
//
//	["cell2fire", "--input-instance-folder", "{workdir}", "--output", "{output}"]
type Command []string

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Expand substitutes vars into the template. Referencing a placeholder
// that vars does not define is an error.
func (c Command) Expand(vars map[string]string) ([]string, error) {
	if len(c) == 0 {
		return nil, ErrNotConfigured
	}
	out := make([]string, len(c))
	var missing []string
	for i, arg := range c {
		out[i] = placeholder.ReplaceAllStringFunc(arg, func(m string) string {
			key := m[1 : len(m)-1]
			v, ok := vars[key]
			if !ok {
				missing = append(missing, key)
			}
			return v
		})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("command %s: undefined placeholder(s) %s", c[0], strings.Join(missing, ", "))
	}
	return out, nil
}

// Run expands c and runs it in dir, returning the tool's combined output in
// the error when it fails.
func (c Command) Run(ctx context.Context, dir string, vars map[string]string) error {
	args, err := c.Expand(vars)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w\n%s", args[0], err, tail(out, 2048))
	}
	return nil
}

// tail keeps the last n bytes of tool output.
func tail(out []byte, n int) []byte {
	if len(out) <= n {
		return out
	}
	return out[len(out)-n:]
}
