package client

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// newSessionCommand constructs the `session` command group for private,
// encrypted parking session logs.
func newSessionCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Encrypted parking session logs"}

	var d, text string
	add := &cobra.Command{
		Use:   "add",
		Short: "Encrypt and publish a session log (text from --text or stdin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if text == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = strings.TrimSpace(string(b))
			}
			if text == "" {
				return fmt.Errorf("empty session log")
			}
			rt, err := g.openRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			rec, results, err := rt.PublishSessionLog(cmd.Context(), d, []byte(text))
			if rec.ID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "session %s id %s\n", rec.TagValue("d"), rec.ID)
				printPublishResults(cmd.OutOrStdout(), results)
			}
			return err
		},
	}
	add.Flags().StringVar(&d, "d", "", "Log identifier; reuse to overwrite (default random)")
	add.Flags().StringVar(&text, "text", "", "Log text")

	list := &cobra.Command{
		Use:   "list",
		Short: "Fetch and decrypt your session logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			entries, err := rt.SessionLogs(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range entries {
				at := time.Unix(e.Record.CreatedAt, 0)
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %s\n", humanize.Time(at), e.Record.TagValue("d"), e.Plaintext)
			}
			return nil
		},
	}
	cmd.AddCommand(add, list)
	return cmd
}
