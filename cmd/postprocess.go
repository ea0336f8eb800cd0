/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valpere/mdtran/internal/postprocess"
	"github.com/valpere/mdtran/internal/prompt"
)

var postprocessCmd = &cobra.Command{
	Use:     "postprocess",
	Aliases: []string{"pp"},
	Short:   "Repair translated markdown files",
	Long: `Apply text repairs to every *.md file in a directory.

Each repair is idempotent, so running it twice is harmless. Unless an output
directory is given, files are rewritten in place.`,
}

// dirTransformCmd builds a subcommand that applies fn to <dir> [out-dir].
func dirTransformCmd(use, short string, fn postprocess.Transform) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <dir> [out-dir]",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := args[0]
			if len(args) == 2 {
				out = args[1]
			}
			n, err := postprocess.ApplyDir(args[0], out, fn)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d files changed\n", use, n)
			return nil
		},
	}
}

var (
	checkPassedDir string
	checkFailedDir string
)

var postprocessCheckCmd = &cobra.Command{
	Use:   "check <dir>",
	Short: "Check that $ and $$ formula delimiters are balanced",
	Long: `Check every file for an even number of $$ delimiters and of single $ signs.

Passing files are copied to --passed and failing files are moved to --failed
so they can be retranslated or repaired. Without those flags the check only
reports.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := postprocess.CheckDir(args[0], checkPassedDir, checkFailedDir)
		if err != nil {
			return err
		}
		for _, name := range res.Failed {
			fmt.Printf("unbalanced: %s\n", name)
		}
		fmt.Printf("%d passed, %d failed\n", len(res.Passed), len(res.Failed))
		return nil
	},
}

var stripSentinel string

func init() {
	rootCmd.AddCommand(postprocessCmd)

	postprocessCmd.AddCommand(dirTransformCmd("images", "Rewrite image links to scaled <img> tags under ./images/", postprocess.RewriteImages))
	postprocessCmd.AddCommand(dirTransformCmd("tables", "Convert HTML tables to markdown pipe tables", postprocess.TablesToMarkdown))
	postprocessCmd.AddCommand(dirTransformCmd("repair", "Restore paragraph breaks and escaped formula commands", postprocess.RepairFormulas))

	strip := dirTransformCmd("strip-sentinel", "Remove the completion marker from translated files", func(s string) string {
		return postprocess.StripSentinel(s, stripSentinel)
	})
	strip.Flags().StringVar(&stripSentinel, "sentinel", prompt.DefaultSentinel, "Completion marker to remove")
	postprocessCmd.AddCommand(strip)

	postprocessCheckCmd.Flags().StringVar(&checkPassedDir, "passed", "", "Copy passing files into this directory")
	postprocessCheckCmd.Flags().StringVar(&checkFailedDir, "failed", "", "Move failing files into this directory")
	postprocessCmd.AddCommand(postprocessCheckCmd)
}
