// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node in the CLI tree: either a leaf with a Run
// function, or a group whose first positional argument selects a
// subcommand.
type Command struct {
	// Name is what the user types to select this command ("split",
	// "index", ...).
	Name string

	// Summary is the one-line description shown next to Name in the
	// parent command's listing.
	Summary string

	// Description is the long-form text at the top of this command's
	// own help. Falls back to Summary when empty.
	Description string

	// Usage overrides the synthesized usage line. Give the full
	// invocation, e.g. "tracekit split -o DIR (-d DIR | FILE...) [flags]".
	Usage string

	// Examples are rendered at the end of the help output.
	Examples []Example

	// Flags returns the command's flag set. Execute calls it once per
	// invocation and parses into it, so the factory must return the
	// same instance each time: commands bind flag values to variables
	// their Run closure reads. A nil Flags means no flags.
	Flags func() *pflag.FlagSet

	// Run is the leaf behavior, invoked with the positional arguments
	// left after flag parsing.
	Run func(args []string) error

	// Subcommands, when non-empty, are dispatched by name before Run
	// is considered.
	Subcommands []*Command

	// parent links back up the tree; dispatch fills it in so help and
	// errors can print the full "tracekit index build" style path.
	parent *Command
}

// Example is one worked invocation in a command's help output.
type Example struct {
	// Description says what the invocation accomplishes.
	Description string
	// Command is the literal shell line.
	Command string
}

// Execute runs the command against args: help flags print and return
// nil, a leading bare word picks a subcommand, anything else parses
// flags and calls Run.
func (c *Command) Execute(args []string) error {
	if len(args) > 0 && wantsHelp(args[0]) {
		c.PrintHelp(os.Stderr)
		return nil
	}

	if len(c.Subcommands) > 0 {
		if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
			return c.dispatch(args)
		}
		if c.Run == nil {
			c.PrintHelp(os.Stderr)
			if len(args) == 0 {
				return errors.New("subcommand required")
			}
			return fmt.Errorf("subcommand required before %q", args[0])
		}
	}

	return c.runLeaf(args)
}

// dispatch routes args[0] to the matching subcommand, or reports it as
// unknown with the nearest name when one is plausibly a typo.
func (c *Command) dispatch(args []string) error {
	name := args[0]
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			sub.parent = c
			return sub.Execute(args[1:])
		}
	}

	hint := ""
	if match := suggestCommand(name, c.Subcommands); match != "" {
		hint = fmt.Sprintf(" (did you mean %q?)", match)
	}
	return fmt.Errorf("unknown command %q%s\n\n%s", name, hint, c.helpHint())
}

// runLeaf parses flags (when the command has any) and invokes Run with
// the remaining positional arguments.
func (c *Command) runLeaf(args []string) error {
	if c.Flags != nil {
		flagSet := c.Flags()
		// pflag prints its own error and usage dump; silence that and
		// format the failure ourselves.
		flagSet.SetOutput(io.Discard)

		switch err := flagSet.Parse(args); {
		case errors.Is(err, pflag.ErrHelp):
			// --help appeared after positional args, so the top of
			// Execute never saw it.
			c.PrintHelp(os.Stderr)
			return nil
		case err != nil:
			return c.flagError(err, args, flagSet)
		}
		args = flagSet.Args()
	}

	if c.Run != nil {
		return c.Run(args)
	}

	c.PrintHelp(os.Stderr)
	return fmt.Errorf("no action defined for %q", c.fullName())
}

// flagError turns a pflag parse failure into the user-facing message:
// the raw error, a typo suggestion when one is close, and the help
// pointer.
func (c *Command) flagError(parseErr error, args []string, flagSet *pflag.FlagSet) error {
	message := parseErr.Error()

	if strings.Contains(message, "unknown flag") || strings.Contains(message, "unknown shorthand") {
		if match := suggestFlag(args, flagSet); match != "" {
			return fmt.Errorf("%s (did you mean %s?)\n\n%s", message, match, c.helpHint())
		}
	}
	return fmt.Errorf("%s\n\n%s", message, c.helpHint())
}

// PrintHelp writes the command's help text to w: description, usage,
// subcommand listing, flags, examples, and (for groups) the pointer to
// per-command help.
func (c *Command) PrintHelp(w io.Writer) {
	if c.Description != "" {
		fmt.Fprintf(w, "%s\n\n", c.Description)
	} else if c.Summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	fmt.Fprintf(w, "Usage:\n  %s\n", c.usageLine())

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		tw.Flush()
	}

	if c.Flags != nil {
		if usages := c.Flags().FlagUsages(); usages != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usages)
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for i, example := range c.Examples {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if example.Description != "" {
				fmt.Fprintf(w, "  # %s\n", example.Description)
			}
			fmt.Fprintf(w, "  %s\n", example.Command)
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", c.fullName())
	}
}

// usageLine returns Usage verbatim when set, otherwise a line built
// from the command path.
func (c *Command) usageLine() string {
	if c.Usage != "" {
		return c.Usage
	}
	if len(c.Subcommands) > 0 {
		return c.fullName() + " <command> [flags]"
	}
	return c.fullName() + " [flags]"
}

// helpHint is the trailing line appended to user errors.
func (c *Command) helpHint() string {
	return fmt.Sprintf("Run '%s --help' for usage.", c.fullName())
}

// fullName walks parent links to produce the invocation path, e.g.
// "tracekit index build".
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func wantsHelp(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	}
	return false
}
