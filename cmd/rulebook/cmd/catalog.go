package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/rulebook/internal/core/db"
	"github.com/solatis/rulebook/internal/rules"
	"github.com/solatis/rulebook/internal/types"
)

func newCatalogCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Store and inspect rule catalogs",
	}

	// withStore runs fn against a migrated catalog store.
	withStore := func(cmd *cobra.Command, fn func(*db.CatalogStore) error) error {
		cfg, err := g.loadConfig(cmd)
		if err != nil {
			return err
		}
		database, queries, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := requireMigrated(database); err != nil {
			return err
		}
		return fn(db.NewCatalogStore(queries, g.logger))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>...",
		Short: "Validate catalog files and store them as new versions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *db.CatalogStore) error {
				for _, path := range args {
					catalog, err := types.LoadCatalogFile(path)
					if err != nil {
						return err
					}

					// Dynamic documents are the only item shape known
					// here, so this catches structural errors only.
					compiled := rules.CompileCatalog[map[string]any](catalog, rules.WithLogger(g.logger))
					for _, skipped := range compiled.Skipped() {
						g.logger.Warn("set will not compile", "catalog", catalog.Name, "error", skipped.Error())
					}

					id, err := store.Save(cmd.Context(), catalog)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", catalog.Name, id)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored catalogs with their latest version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *db.CatalogStore) error {
				names, err := store.ListNames(cmd.Context())
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tVERSION\tSETS\tCREATED AT")
				for _, name := range names {
					latest, err := store.Latest(cmd.Context(), name)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, latest.ID, len(latest.Catalog.Sets), latest.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print the latest stored version of a catalog as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *db.CatalogStore) error {
				latest, err := store.Latest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				doc, err := types.EncodeCatalog(latest.Catalog)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(doc))
				return nil
			})
		},
	})

	return cmd
}
