package main

import (
	"fmt"
	"os"

	"github.com/notargets/ipsens/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ipsens",
	Short: "Induced polarization forward modelling and sensitivities",
	Long: `ipsens builds a resistivity survey over a tensor mesh from a YAML
configuration and evaluates the linearized induced polarization response:
predicted data, the full sensitivity matrix, and an adjoint consistency check.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE:  writeDefaultConfig,
}

var dpredCmd = &cobra.Command{
	Use:   "dpred",
	Short: "Print the predicted apparent chargeability or voltage data",
	RunE:  runDpred,
}

var jacobianCmd = &cobra.Command{
	Use:   "jacobian",
	Short: "Compute and optionally write the sensitivity matrix",
	RunE:  runJacobian,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that Jvec and Jtvec are adjoint",
	Long: `Draws random model and data vectors v and w and compares w·(J v)
against v·(Jᵀ w). The command fails if the relative difference exceeds --tol.`,
	RunE: runCheck,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ipsens.yaml", "Run configuration (defaults apply when missing)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	jacobianCmd.Flags().StringVarP(&jacobianOut, "out", "o", "", "Write the matrix rows to this file")
	checkCmd.Flags().Uint64Var(&checkSeed, "seed", 1, "Seed for the random test vectors")
	checkCmd.Flags().Float64Var(&checkTol, "tol", 1e-8, "Largest accepted relative difference")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(dpredCmd)
	rootCmd.AddCommand(jacobianCmd)
	rootCmd.AddCommand(checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadRun reads the configuration and builds its simulation
func loadRun() (*config.Run, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	run, err := cfg.Build(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build simulation: %w", err)
	}
	logger.Info("loaded configuration",
		zap.String("path", configPath),
		zap.String("formulation", run.Sim.Formulation().Name),
		zap.Int("parameters", run.Sim.NP()),
		zap.Int("data", run.Sim.NData()))
	return run, nil
}

func writeDefaultConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
