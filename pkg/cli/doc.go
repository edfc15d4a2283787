/*
Package cli provides command-line helpers used by the gatekeeper command.

Output Formatting:

Commands print results as text or JSON, selected with --output:

	formatter := cli.NewFormatter(cli.FormatJSON)
	table := &cli.Table{Headers: []string{"ENVIRONMENT", "ENDPOINT"}}
	if err := formatter.FormatTo(os.Stdout, table); err != nil {
		return err
	}

Errors and Exit Codes:

ConfigError and CommandError wrap failures; ExitCode maps them to the process exit
status (2 for configuration errors, 3 for denied admissions, 4 for invalid input).

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
