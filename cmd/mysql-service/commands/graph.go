package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/mysql-service/pkg/mysql"
)

func newGraphCommand() *cobra.Command {
	var descriptor, name, action, out string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the notification graph in DOT format",
		Example: `  mysql-service graph -d app1.yaml | dot -Tsvg > app1.svg
  mysql-service graph -d app1.yaml -o app1.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, _, graph, err := buildPlan(descriptor, name, action)
			if err != nil {
				return err
			}

			dot := graph.ToDOT()
			if out == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), dot)
				return err
			}
			if err := os.WriteFile(out, []byte(dot), 0o644); err != nil {
				return fmt.Errorf("failed to write graph: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successMsg("Graph written to %s", out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&descriptor, "descriptor", "d", "", "descriptor file")
	cmd.Flags().StringVarP(&name, "name", "n", "", "service name to select when the file declares several")
	cmd.Flags().StringVarP(&action, "action", "a", string(mysql.ActionCreate), "action to graph")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the graph to this file")
	_ = cmd.MarkFlagRequired("descriptor")

	return cmd
}
