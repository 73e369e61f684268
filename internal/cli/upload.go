package cli

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/docchat/internal/api"
)

func newUploadCommand(a *app) *cobra.Command {
	var (
		title       string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload documents for ingestion",
		Long: `Upload one or more documents. Each line of output is the file followed by
its document id, in argument order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.apiClient()
			ids := make([]uuid.UUID, len(args))

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(concurrency)
			for i, path := range args {
				g.Go(func() error {
					f, err := os.Open(path)
					if err != nil {
						return err
					}
					defer f.Close()

					id, err := client.UploadDocument(ctx, api.UploadRequest{
						Filename:    filepath.Base(path),
						Title:       title,
						ContentType: contentTypeOf(path),
						Body:        f,
					})
					if err != nil {
						return fmt.Errorf("upload %s: %w", path, err)
					}
					ids[i] = id
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for i, path := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", path, ids[i])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (defaults to the file name)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum uploads in flight")
	return cmd
}

// contentTypeOf guesses from the extension. Empty lets the client default to
// application/pdf.
func contentTypeOf(path string) string {
	return mime.TypeByExtension(filepath.Ext(path))
}
