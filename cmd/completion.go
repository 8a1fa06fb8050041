package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type completionGenerator func(root *cobra.Command, w io.Writer, descriptions bool) error

var completionGenerators = map[string]completionGenerator{
	"bash": func(root *cobra.Command, w io.Writer, descriptions bool) error {
		return root.GenBashCompletionV2(w, descriptions)
	},
	"zsh": func(root *cobra.Command, w io.Writer, descriptions bool) error {
		if descriptions {
			return root.GenZshCompletion(w)
		}
		return root.GenZshCompletionNoDesc(w)
	},
	"fish": func(root *cobra.Command, w io.Writer, descriptions bool) error {
		return root.GenFishCompletion(w, descriptions)
	},
	"powershell": func(root *cobra.Command, w io.Writer, descriptions bool) error {
		if descriptions {
			return root.GenPowerShellCompletionWithDesc(w)
		}
		return root.GenPowerShellCompletion(w)
	},
}

func completionShells() []string {
	shells := lo.Keys(completionGenerators)
	slices.Sort(shells)
	return shells
}

var completionCmd = &cobra.Command{
	Use:   "completion SHELL",
	Short: "Print a shell completion script",
	Long: `Print a completion script for bash, zsh, fish or powershell.

Load it for the current session, for example:

  source <(copilot completion bash)
  copilot completion fish | source

or write it to your shell's completion directory to keep it.`,
	DisableFlagsInUseLine: true,
	ValidArgs:             completionShells(),
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		noDesc, _ := cmd.Flags().GetBool("no-descriptions")
		return genCompletion(cmd.Root(), args[0], os.Stdout, !noDesc)
	},
}

func init() {
	completionCmd.Flags().Bool("no-descriptions", false, "Omit command descriptions from completions")
	rootCmd.AddCommand(completionCmd)
}

func genCompletion(root *cobra.Command, shell string, w io.Writer, descriptions bool) error {
	gen, ok := completionGenerators[shell]
	if !ok {
		return fmt.Errorf("unsupported shell %q: use one of %v", shell, completionShells())
	}
	return gen(root, w, descriptions)
}
