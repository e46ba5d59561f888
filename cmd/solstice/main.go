package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	solsticeversion "github.com/solstice-ops/solstice/internal/version"
)

var rootCmd *cobra.Command

// OutputFormatter prints command results as JSON or human-readable text.
type OutputFormatter struct {
	jsonMode bool
}

func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print emits data as indented JSON in JSON mode, otherwise runs the
// human-readable formatter.
func (f *OutputFormatter) Print(data any, human func()) {
	if f.jsonMode {
		encoded, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			return
		}
		fmt.Println(string(encoded))
		return
	}
	human()
}

func buildRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "solstice",
		Short:         "Solstice - ops dashboard control CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = solsticeversion.String()
	cmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().String("addr", "127.0.0.1:8645", "Daemon API address")

	cmd.AddCommand(newToolsCommand(), newSessionsCommand(), newRegistriesCommand(), newDaemonCommand())
	return cmd
}

func main() {
	rootCmd = buildRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
