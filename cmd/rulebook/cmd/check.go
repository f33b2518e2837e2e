package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/rulebook/internal/rules"
	"github.com/solatis/rulebook/internal/types"
)

// checkResult is one output line of the check command.
type checkResult struct {
	Line     int              `json:"line"`
	Matched  bool             `json:"matched"`
	Failures []*rules.Failure `json:"failures,omitempty"`
}

func newCheckCommand(g *globals) *cobra.Command {
	var (
		catalogPath string
		itemsPath   string
		explain     bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate JSON lines against a catalog file without a server",
		Long: `Compiles a catalog file and evaluates every JSON object in the items
file (one per line, "-" for stdin). Writes one JSON result per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := types.LoadCatalogFile(catalogPath)
			if err != nil {
				return err
			}
			compiled := rules.CompileCatalog[map[string]any](catalog, rules.WithLogger(g.logger))

			in := cmd.InOrStdin()
			if itemsPath != "-" {
				f, err := os.Open(itemsPath)
				if err != nil {
					return fmt.Errorf("failed to open items: %w", err)
				}
				defer f.Close()
				in = f
			}

			total, matched, err := runCheck(in, cmd.OutOrStdout(), compiled, explain)
			if err != nil {
				return err
			}
			g.logger.Info("check complete",
				"catalog", catalog.Name,
				"items", total,
				"matched", matched,
				"skipped_sets", len(compiled.Skipped()))
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog file (.json, .yaml, .yml)")
	cmd.Flags().StringVar(&itemsPath, "items", "-", "JSON lines file of items")
	cmd.Flags().BoolVar(&explain, "explain", false, "include failure explanations for unmatched items")
	cmd.MarkFlagRequired("catalog")
	return cmd
}

// runCheck evaluates every non-blank line of in and writes one result per
// line to out. Numbers are kept as json.Number so integers stay exact.
func runCheck(in io.Reader, out io.Writer, compiled *rules.CompiledCatalog[map[string]any], explain bool) (total, matched int, err error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(out)

	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var item map[string]any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&item); err != nil {
			return total, matched, fmt.Errorf("line %d: %w", line, err)
		}

		result := checkResult{Line: line}
		if explain {
			ex := compiled.Explain(item)
			result.Matched = ex.Satisfied
			result.Failures = ex.Failures
		} else {
			result.Matched = compiled.Matches(item)
		}

		total++
		if result.Matched {
			matched++
		}
		if err := enc.Encode(result); err != nil {
			return total, matched, err
		}
	}

	return total, matched, scanner.Err()
}
