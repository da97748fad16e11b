/*
Package cli provides command-line helpers for the sluice command.

Output Formatting:

Commands print results as text or JSON. Results that implement TextWriter
control their own text layout:

	format, err := cli.ParseOutputFormat(flagValue)
	if err != nil {
		return err
	}
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, result); err != nil {
		return err
	}

Progress Reporting:

Load tests of fixed duration draw a progress bar on stderr:

	progress := cli.NewProgress(os.Stderr, 30*time.Second)
	progress.Start()
	progress.Update(checks)
	progress.Finish(checks)

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

SIGHUP is delivered separately through ReloadSignals so that long-running
commands can reload configuration without stopping.

Errors:

ConfigError and CommandError carry enough context for ExitCode to choose
the process exit status.
*/
package cli
