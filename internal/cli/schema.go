package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jacentio/arbor/resource"
)

// SchemaResource describes one resolved resource.
type SchemaResource struct {
	Type         string              `json:"type"`
	Table        string              `json:"table"`
	PrimaryKey   string              `json:"primary_key"`
	Associations []SchemaAssociation `json:"associations,omitempty"`
}

// SchemaAssociation describes one resolved association.
type SchemaAssociation struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Targets []string `json:"targets"`
	Keys    string   `json:"keys"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Check the resource schema against the database",
		Long: `Resolve every association key of the resource schema, check that the
tables and columns exist, and print the resolved associations.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runSchema(ctx context.Context, rootOpts *RootOptions, cmd *cobra.Command) error {
	f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

	store, reg, err := openStore(ctx, rootOpts, newLogger(rootOpts, cmd.ErrOrStderr()))
	if err != nil {
		return f.Fail(err)
	}
	defer store.Close()

	if err := store.CheckRegistry(ctx, reg); err != nil {
		return f.Fail(WrapExitError(ExitFailure, "schema does not match database", err))
	}

	var resources []SchemaResource
	for _, d := range reg.Descriptors() {
		res := SchemaResource{Type: d.Type, Table: d.Table, PrimaryKey: d.PrimaryKey}
		for _, a := range d.Associations {
			res.Associations = append(res.Associations, SchemaAssociation{
				Name:    a.Name,
				Kind:    string(a.Kind),
				Targets: a.TargetTypes(),
				Keys:    describeKeys(a),
			})
		}
		resources = append(resources, res)
	}

	return f.Print("ok", resources, func(w io.Writer) {
		for _, r := range resources {
			fmt.Fprintf(w, "%s (%s, key %s)\n", r.Type, r.Table, r.PrimaryKey)
			for _, a := range r.Associations {
				fmt.Fprintf(w, "  %s %s -> %v [%s]\n", a.Name, a.Kind, a.Targets, a.Keys)
			}
		}
	})
}

// describeKeys renders where an association keeps its keys.
func describeKeys(a *resource.Association) string {
	switch a.Kind.Placement() {
	case resource.PlacementOwner:
		if a.Kind.Polymorphic() {
			return a.ForeignKey + ", " + a.DiscriminatorAttribute
		}
		return a.ForeignKey
	case resource.PlacementRelated:
		return a.ForeignKey
	case resource.PlacementRelatedSet:
		if a.JoinTable != "" {
			return fmt.Sprintf("%s(%s, %s)", a.JoinTable, a.JoinOwnerKey, a.JoinRelatedKey)
		}
		return a.ForeignKeysAttribute
	}
	return "embedded"
}
