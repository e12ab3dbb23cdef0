package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forensight/forensight/internal/roles"
)

func newRolesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the reviewer roles and the workpaper fields each one reads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := roles.Default()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tTITLE\tFIELDS")
			for _, role := range roles.All() {
				def, err := catalog.Get(role)
				if err != nil {
					return err
				}
				fields := "(entire workpaper)"
				if names, err := catalog.Fields(role); err == nil && names != nil {
					fields = strings.Join(names, ", ")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", role, def.Title, fields)
			}
			return w.Flush()
		},
	}
}
