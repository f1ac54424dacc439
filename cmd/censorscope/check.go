package main

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/censorscope/internal/sandbox"
)

var checkCmd = &cobra.Command{
	Use:   "check <pattern>...",
	Short: "Reject precompiled chunks before they reach a sandbox",
	Long: `Check that every file matching the given patterns is Lua source text
and not a precompiled chunk. Patterns support ** for recursive matches.

Examples:
  censorscope check 'sandbox/**/*.lua'
  censorscope check luasrc/api.lua sandbox/main.lua`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func runCheck(_ *cobra.Command, args []string) error {
	var checked, rejected int
	for _, pattern := range args {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			fmt.Fprintf(os.Stderr, "%s: no files matched\n", pattern)
			continue
		}
		for _, path := range matches {
			checked++
			if err := sandbox.ValidateScript(path); err != nil {
				rejected++
				fmt.Fprintf(os.Stdout, "FAIL  %s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(os.Stdout, "ok    %s\n", path)
		}
	}

	if rejected > 0 {
		return fmt.Errorf("%d of %d scripts rejected", rejected, checked)
	}
	return nil
}
