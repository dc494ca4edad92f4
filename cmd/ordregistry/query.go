package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/ordregistry/registry"
)

// withEngine builds the app, rebuilds the snapshot once and runs fn.
func (c *cli) withEngine(ctx context.Context, fn func(*registry.Engine) error) error {
	a, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()

	if _, err := a.engine.Rebuild(ctx); err != nil {
		return err
	}
	return fn(a.engine)
}

func newDiscoverCmd(c *cli) *cobra.Command {
	var filters []string
	cmd := &cobra.Command{
		Use:       "discover <capabilities|resources|dependencies|agents>",
		Short:     "Run a discovery query against a freshly built snapshot",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"capabilities", "resources", "dependencies", "agents"},
		RunE: func(cmd *cobra.Command, args []string) error {
			q := registry.Query{Type: registry.DiscoveryType(args[0]), Filters: map[string]interface{}{}}
			for _, f := range filters {
				key, value, ok := strings.Cut(f, "=")
				if !ok || key == "" {
					return fmt.Errorf("filter %q is not key=value", f)
				}
				q.Filters[key] = value
			}
			return c.withEngine(cmd.Context(), func(e *registry.Engine) error {
				resp, err := e.Discover(cmd.Context(), q)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "filter as key=value (repeatable)")
	return cmd
}

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [id]",
		Short: "Validate one resource, or every resource, against the compliance rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(e *registry.Engine) error {
				var (
					report *registry.ComplianceReport
					err    error
				)
				if len(args) == 1 {
					report, err = e.Validate(cmd.Context(), args[0])
				} else {
					report, err = e.ValidateAll(cmd.Context())
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print registry statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(e *registry.Engine) error {
				stats, err := e.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}
