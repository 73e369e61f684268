package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rickgao/docchat/internal/chat"
)

func newAskCommand(a *app) *cobra.Command {
	var (
		document string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask a question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := chat.Question{Text: strings.Join(args, " ")}
			if document != "" {
				id, err := uuid.Parse(document)
				if err != nil {
					return fmt.Errorf("invalid --document: %w", err)
				}
				q.DocumentID = &id
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			h := a.socket()
			defer h.Socket.Close()

			out := cmd.OutOrStdout()
			_, err := chat.Ask(ctx, h, q, func(piece string) {
				fmt.Fprint(out, piece)
			})
			fmt.Fprintln(out)
			return err
		},
	}

	cmd.Flags().StringVar(&document, "document", "", "Restrict the answer to this document id")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up if the answer has not finished")
	return cmd
}
