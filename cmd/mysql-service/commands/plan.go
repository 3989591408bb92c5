package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/mysql-service/pkg/config"
	"github.com/openfroyo/mysql-service/pkg/engine"
	"github.com/openfroyo/mysql-service/pkg/mysql"
)

// planStep is the printable form of a declaration.
type planStep struct {
	ID       string                    `json:"id"`
	Kind     engine.StepKind           `json:"kind"`
	Actions  []engine.Action           `json:"actions"`
	Trigger  engine.Trigger            `json:"trigger"`
	Notifies []engine.NotificationEdge `json:"notifies,omitempty"`
}

type planOutput struct {
	Service string     `json:"service"`
	Action  string     `json:"action"`
	Steps   []planStep `json:"steps"`
}

// buildPlan loads one descriptor and returns its declarations and
// validated notification graph. No host is contacted.
func buildPlan(path, name, actionName string) (mysql.ResourceDescriptor, mysql.Action, []engine.Declaration, *engine.Graph, error) {
	action, err := mysql.ParseAction(actionName)
	if err != nil {
		return mysql.ResourceDescriptor{}, "", nil, nil, err
	}
	desc, err := config.LoadDescriptor(path, name)
	if err != nil {
		return mysql.ResourceDescriptor{}, "", nil, nil, err
	}
	decls, err := mysql.NewProvider(nil).Plan(desc, action)
	if err != nil {
		return mysql.ResourceDescriptor{}, "", nil, nil, err
	}
	graph, err := engine.NewGraphBuilder().Build(decls)
	if err != nil {
		return mysql.ResourceDescriptor{}, "", nil, nil, err
	}
	return desc, action, decls, graph, nil
}

func newPlanCommand() *cobra.Command {
	var descriptor, name, action string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the ordered steps of an action",
		Long: `Plan prints the steps an action declares, in execution order, with
their triggers and notification edges. Nothing is applied.`,
		Example: `  mysql-service plan -d app1.yaml
  mysql-service plan -d app1.yaml --action reload --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, act, decls, _, err := buildPlan(descriptor, name, action)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), desc.ServiceName, act, decls)
		},
	}

	cmd.Flags().StringVarP(&descriptor, "descriptor", "d", "", "descriptor file")
	cmd.Flags().StringVarP(&name, "name", "n", "", "service name to select when the file declares several")
	cmd.Flags().StringVarP(&action, "action", "a", string(mysql.ActionCreate), "action to plan (create, restart or reload)")
	_ = cmd.MarkFlagRequired("descriptor")

	return cmd
}

func printPlan(w io.Writer, service string, action mysql.Action, decls []engine.Declaration) error {
	out := planOutput{Service: service, Action: string(action)}
	for _, d := range decls {
		out.Steps = append(out.Steps, planStep{
			ID:       d.Step.ID(),
			Kind:     d.Step.Kind(),
			Actions:  d.Actions,
			Trigger:  d.Trigger,
			Notifies: d.Notifies,
		})
	}

	if jsonOutput {
		return writeJSON(w, out)
	}

	rows := make([][]string, 0, len(out.Steps))
	for i, s := range out.Steps {
		actions := make([]string, len(s.Actions))
		for j, a := range s.Actions {
			actions[j] = string(a)
		}
		notifies := make([]string, len(s.Notifies))
		for j, e := range s.Notifies {
			notifies[j] = fmt.Sprintf("%s %s (%s)", e.Action, e.Target, e.Timing)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			s.ID,
			string(s.Trigger),
			strings.Join(actions, ","),
			strings.Join(notifies, "\n"),
		})
	}

	fmt.Fprintln(w, infoMsg("%s %s: %d steps", service, action, len(out.Steps)))
	fmt.Fprintln(w, renderTable([]string{"#", "STEP", "TRIGGER", "ACTIONS", "NOTIFIES"}, rows))
	return nil
}
