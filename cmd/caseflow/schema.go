package main

import (
	"fmt"

	"caseflow/internal/backend"
	"caseflow/internal/config"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

// schemaTargets are the documents a JSON Schema can be printed for
var schemaTargets = map[string]interface{}{
	"seed":   &config.Seed{},
	"create": &backend.CreateCaseInput{},
	"update": &backend.CaseUpdate{},
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <seed|create|update>",
		Short: "Print the JSON Schema of a seed file or request body",
		Long:  `Print a JSON Schema for editor completion and validation of
seed.jsonc files (seed) and case request bodies (create, update).`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"seed", "create", "update"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, ok := schemaTargets[args[0]]
			if !ok {
				return fmt.Errorf("unknown schema %q", args[0])
			}
			reflector := jsonschema.Reflector{
				ExpandedStruct:             true,
				RequiredFromJSONSchemaTags: true,
			}
			return printJSON(cmd.OutOrStdout(), reflector.Reflect(target))
		},
	}
}
