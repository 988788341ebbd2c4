package commands

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dotcommander/guardrails/internal/output"
)

// NewSchemaCmd creates the schema command: a machine-readable description of
// the CLI surface so agent hosts can discover commands and flags without
// scraping --help text.
func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "schema",
		Short:         "Emit a JSON schema of every command and its flags",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var schemas []commandArgSchema
			collectCommandSchemas(cmd.Root(), &schemas)

			type resp struct {
				Commands []commandArgSchema `json:"commands"`
				Count    int                `json:"count"`
			}
			return output.PrintSuccess(resp{Commands: schemas, Count: len(schemas)})
		},
	}
}

type commandArgSchema struct {
	Command     string         `json:"command"`
	Description string         `json:"description,omitempty"`
	ArgsSchema  map[string]any `json:"args_schema"`
}

func collectCommandSchemas(cmd *cobra.Command, out *[]commandArgSchema) {
	if cmd.Name() != "" && cmd.Name() != "guardrails" && cmd.Name() != "schema" && !cmd.Hidden {
		*out = append(*out, buildCommandSchema(cmd))
	}

	for _, child := range cmd.Commands() {
		collectCommandSchemas(child, out)
	}
}

func buildCommandSchema(cmd *cobra.Command) commandArgSchema {
	properties := map[string]any{}
	seen := map[string]bool{}

	addFlag := func(f *pflag.Flag) {
		if f.Hidden || seen[f.Name] {
			return
		}
		seen[f.Name] = true

		flagSchema := map[string]any{
			"type":        normalizeFlagType(f.Value.Type()),
			"description": f.Usage,
		}
		if f.DefValue != "" {
			flagSchema["default"] = typedFlagDefault(f.Value.Type(), f.DefValue)
		}
		properties[f.Name] = flagSchema
	}

	cmd.InheritedFlags().VisitAll(addFlag)
	cmd.NonInheritedFlags().VisitAll(addFlag)

	return commandArgSchema{
		Command:     cmd.CommandPath(),
		Description: cmd.Short,
		ArgsSchema: map[string]any{
			"type":       "object",
			"properties": properties,
		},
	}
}

func normalizeFlagType(flagType string) string {
	switch flagType {
	case "int", "int64", "int32", "uint", "uint64", "uint32":
		return "integer"
	case "bool":
		return "boolean"
	default:
		// Durations and everything else travel as strings.
		return "string"
	}
}

func typedFlagDefault(flagType, raw string) any {
	switch flagType {
	case "bool":
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	case "int", "int64", "int32", "uint", "uint64", "uint32":
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return strings.TrimSpace(raw)
}
