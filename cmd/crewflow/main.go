// Package main provides the crewflow binary: a CLI that runs multi-agent
// software development workflows against an OpenAI-compatible endpoint.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crewflow/crewflow/pkg/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "crewflow",
		Short: "Multi-agent software development workflows",
		Long: `Crewflow coordinates a crew of LLM-backed agents (business analyst,
developer, QA engineer, DevOps engineer, technical writer) through graph
workflows for feature development and bug fixing.

Workflow progress streams to the terminal, generated files land under the
configured workspace, and every run checkpoints its state so it can be
resumed after an interruption.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "crewflow.yaml",
		"Path to the configuration file")

	cmd.AddCommand(
		featureCmd(&configPath),
		bugfixCmd(&configPath),
		resumeCmd(&configPath),
		versionCmd(),
	)

	return cmd
}

func featureCmd(configPath *string) *cobra.Command {
	var (
		contextPairs []string
		threadID     string
	)

	cmd := &cobra.Command{
		Use:   `feature "<requirement>"`,
		Short: "Run the feature development workflow",
		Long: `Runs the feature development workflow: requirements analysis,
architecture design, implementation, parallel QA + infrastructure, and
documentation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseContext(contextPairs)
			if err != nil {
				return err
			}

			app, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.RunFeature(cmd.Context(), args[0], extra, threadID)
		},
	}

	cmd.Flags().StringArrayVar(&contextPairs, "context", nil,
		"Additional context as key=value (repeatable)")
	cmd.Flags().StringVar(&threadID, "thread-id", "",
		"Checkpoint thread ID (defaults to the workflow ID)")

	return cmd
}

func bugfixCmd(configPath *string) *cobra.Command {
	var (
		bugDescription string
		threadID       string
	)

	cmd := &cobra.Command{
		Use:   `bugfix "<requirement>"`,
		Short: "Run the bug fix workflow",
		Long: `Runs the bug fix workflow: bug analysis, fix implementation,
regression testing, and release notes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.RunBugFix(cmd.Context(), args[0], bugDescription, threadID)
		},
	}

	cmd.Flags().StringVar(&bugDescription, "bug", "",
		"Description of the bug (defaults to the requirement)")
	cmd.Flags().StringVar(&threadID, "thread-id", "",
		"Checkpoint thread ID (defaults to the workflow ID)")

	return cmd
}

func resumeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <thread-id>",
		Short: "Resume an interrupted workflow from its latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.RunResume(cmd.Context(), args[0])
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	}
}

// parseContext turns repeated key=value flags into the extra context map
// passed to the workflow. Values may contain '='; keys may not be empty.
func parseContext(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	extra := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid context flag %q: expected key=value", pair)
		}
		extra[key] = value
	}
	return extra, nil
}
