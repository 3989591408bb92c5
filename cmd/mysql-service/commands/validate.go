package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/mysql-service/pkg/config"
	"github.com/openfroyo/mysql-service/pkg/mysql"
	"github.com/openfroyo/mysql-service/pkg/policy"
)

type validationResult struct {
	Service    string             `json:"service"`
	Valid      bool               `json:"valid"`
	Error      string             `json:"error,omitempty"`
	Violations []policy.Violation `json:"violations,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		descriptor string
		name       string
		policyDir  string
		strict     bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate descriptors against the schema and admission policies",
		Long: `Validate checks every descriptor in a file, or the one selected with
--name, for structural errors and admission policy violations.`,
		Example: `  mysql-service validate -d services.cue
  mysql-service validate -d app1.yaml --policy ./policies --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			descs, err := config.LoadDescriptors(descriptor)
			if err != nil {
				return err
			}
			if name != "" {
				d, err := config.LoadDescriptor(descriptor, name)
				if err != nil {
					return err
				}
				descs = []mysql.ResourceDescriptor{d}
			}

			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			if policyDir != "" {
				cfg.Policy.Dir = policyDir
			}

			s, err := openSession(cmd.Context(), cfg, sessionOptions{})
			if err != nil {
				return err
			}
			defer s.Close(context.Background())

			results := make([]validationResult, 0, len(descs))
			failed := 0
			for _, d := range descs {
				r := validationResult{Service: d.ServiceName, Valid: true}
				if err := d.WithDefaults().Validate(); err != nil {
					r.Valid, r.Error = false, err.Error()
				} else {
					result, err := s.admit(cmd.Context(), d, mysql.ActionCreate, strict)
					if result != nil {
						r.Violations = result.Violations
					}
					if err != nil {
						r.Valid, r.Error = false, err.Error()
					}
				}
				if !r.Valid {
					failed++
				}
				results = append(results, r)
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				printValidation(cmd, results)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d descriptors failed validation", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&descriptor, "descriptor", "d", "", "descriptor file")
	cmd.Flags().StringVarP(&name, "name", "n", "", "validate only this service")
	cmd.Flags().StringVar(&policyDir, "policy", "", "directory of additional .rego policies")
	cmd.Flags().BoolVar(&strict, "strict", false, "treat policy warnings as errors")
	_ = cmd.MarkFlagRequired("descriptor")

	return cmd
}

func printValidation(cmd *cobra.Command, results []validationResult) {
	w := cmd.OutOrStdout()
	for _, r := range results {
		switch {
		case !r.Valid:
			fmt.Fprintln(w, errorMsg("%s: %s", r.Service, r.Error))
		case len(r.Violations) > 0:
			fmt.Fprintln(w, warnMsg("%s: valid with %d warnings", r.Service, len(r.Violations)))
		default:
			fmt.Fprintln(w, successMsg("%s: valid", r.Service))
		}
		if len(r.Violations) > 0 {
			fmt.Fprintln(w, violationsTable(r.Violations))
		}
	}
}
