package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hexaflow/hexaflow/internal/config"
	"github.com/hexaflow/hexaflow/internal/engine"
	"github.com/hexaflow/hexaflow/internal/plan"
	"github.com/hexaflow/hexaflow/internal/strategy"
)

var validateCmd = &cobra.Command{
	Use:   "validate [plan-file]",
	Short: "Validate a plan file without running it",
	Long: `Parse a plan file and check its structure: task and stage
references, dependency cycles and the stage successor graph. Nothing
is executed.

With --strategies, also print the strategy the selector would pick for
each task.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

var validateStrategies bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateStrategies, "strategies", false, "Print the selected strategy per task")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	planPath := cfg.Plan.File
	if len(args) > 0 {
		planPath = args[0]
	}

	p, err := plan.Load(afero.NewOsFs(), planPath, "")
	if err != nil {
		return err
	}

	// Registering against a throwaway engine reuses the exact checks a
	// real run performs.
	eng := engine.New()
	if err := registerPlan(eng, cfg, p); err != nil {
		return err
	}
	if err := eng.Validate(); err != nil {
		return err
	}

	fmt.Printf("%s: %d tasks, %d stages, %s\n",
		planPath, len(p.Tasks), len(p.Stages), okStyle.Render("valid"))

	if validateStrategies {
		for _, t := range p.Tasks {
			fmt.Printf("  %-24s %s\n", t.ID, strategy.Select(t))
		}
	}
	return nil
}
