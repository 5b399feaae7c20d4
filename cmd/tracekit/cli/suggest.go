// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// suggestionCutoff is the largest edit distance still treated as a
// typo. Three edits covers dropped letters, doubled letters, and
// transpositions without matching unrelated names.
const suggestionCutoff = 3

// nearest returns the candidate closest to input by edit distance, or
// "" when nothing is within the cutoff. Ties keep the earlier
// candidate, so callers see a stable suggestion.
func nearest(input string, candidates []string) string {
	best := ""
	bestDistance := suggestionCutoff + 1
	for _, candidate := range candidates {
		if d := levenshtein(input, candidate); d < bestDistance {
			best = candidate
			bestDistance = d
		}
	}
	return best
}

// suggestCommand maps an unrecognized subcommand name to the nearest
// defined one, or "" when the input is not plausibly a typo.
func suggestCommand(unknown string, commands []*Command) string {
	names := make([]string, len(commands))
	for i, command := range commands {
		names[i] = command.Name
	}
	return nearest(unknown, names)
}

// suggestFlag finds the first flag-shaped argument the set does not
// define and returns the nearest defined flag, already prefixed with
// "--" (or "-" for a shorthand). Returns "" when every flag in args is
// known or nothing is close.
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	unknown := firstUnknownFlag(args, flagSet)
	if unknown == "" {
		return ""
	}

	var defined []string
	flagSet.VisitAll(func(f *pflag.Flag) {
		defined = append(defined, f.Name)
	})

	match := nearest(unknown, defined)
	switch {
	case match == "":
		return ""
	case len(match) == 1:
		return "-" + match
	default:
		return "--" + match
	}
}

// firstUnknownFlag scans args for the flag that made parsing fail:
// the first dash-prefixed token whose name the set does not define.
func firstUnknownFlag(args []string, flagSet *pflag.FlagSet) string {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") || arg == "-" || arg == "--" {
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			name = name[:eq]
		}

		if flagSet.Lookup(name) != nil {
			continue
		}
		if len(name) == 1 && flagSet.ShorthandLookup(name) != nil {
			continue
		}
		return name
	}
	return ""
}

// levenshtein is the plain edit distance between a and b: insertions,
// deletions, and substitutions all cost one. Inputs are flag and
// command names, so bytes rather than runes are fine. Space is two
// rows of the distance matrix, swapped each iteration.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	previous := make([]int, len(b)+1)
	current := make([]int, len(b)+1)
	for j := range previous {
		previous[j] = j
	}

	for i := 1; i <= len(a); i++ {
		current[0] = i
		for j := 1; j <= len(b); j++ {
			substitution := previous[j-1]
			if a[i-1] != b[j-1] {
				substitution++
			}
			current[j] = min(substitution, previous[j]+1, current[j-1]+1)
		}
		previous, current = current, previous
	}

	return previous[len(b)]
}
