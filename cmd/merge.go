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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valpere/mdtran/internal/markdown"
	"github.com/valpere/mdtran/internal/workspace"
)

var mergeOutput string

var mergeCmd = &cobra.Command{
	Use:   "merge <dir>",
	Short: "Merge markdown files into one document",
	Long: `Concatenate every *.md file in <dir>, ordered by file name, separated by
a horizontal rule.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := workspace.ListMarkdown(args[0])
		if err != nil {
			return fmt.Errorf("failed to read directory: %w", err)
		}
		if len(paths) == 0 {
			fmt.Printf("No markdown files found in %s\n", args[0])
			return nil
		}

		// keep a previous merge result out of its own input
		if abs, err := filepath.Abs(mergeOutput); err == nil {
			kept := paths[:0]
			for _, p := range paths {
				if pa, _ := filepath.Abs(p); pa != abs {
					kept = append(kept, p)
				}
			}
			paths = kept
		}

		if err := os.MkdirAll(filepath.Dir(mergeOutput), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		f, err := os.Create(mergeOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		if _, err := markdown.Merge(paths, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		fmt.Printf("Merged %d files into %s\n", len(paths), mergeOutput)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "merged_output.md", "Output file")
}
