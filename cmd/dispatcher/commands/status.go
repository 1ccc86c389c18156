package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/LumiOpen/translation-dispatcher/pkg/client"
)

// statusTimeout bounds the status round trip.
const statusTimeout = 10 * time.Second

// StatusCommand holds flag state for the status command.
type StatusCommand struct {
	serverURL string
}

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	sc := &StatusCommand{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running dispatcher server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sc.run(cmd)
		},
	}

	cmd.Flags().StringVar(&sc.serverURL, "server", "http://localhost:8000", "dispatcher server URL")

	return cmd
}

func (sc *StatusCommand) run(cmd *cobra.Command) error {
	ctx, cancel := contextWithTimeout(cmd, statusTimeout)
	defer cancel()

	stats, err := client.New(sc.serverURL).Status(ctx)
	if err != nil {
		return fmt.Errorf("query %s: %w", sc.serverURL, err)
	}

	inputState := color.YellowString("reading")
	if stats.InputEOF {
		inputState = color.GreenString("exhausted")
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("dispatcher %s", sc.serverURL)
	tbl.AppendRows([]table.Row{
		{"rows written", humanize.Comma(stats.LastProcessedWorkID + 1)},
		{"next work id", humanize.Comma(int64(stats.NextWorkID))},
		{"issued", humanize.Comma(int64(stats.Issued))},
		{"pending write", humanize.Comma(int64(stats.PendingWrite))},
		{"heap size", humanize.Comma(int64(stats.HeapSize))},
		{"expired reissues", humanize.Comma(int64(stats.ExpiredReissues))},
		{"duplicate completions", humanize.Comma(int64(stats.DuplicateCompletions))},
		{"input", inputState},
	})
	tbl.Render()

	return nil
}

// contextWithTimeout derives a bounded context from the command.
func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), d)
}
