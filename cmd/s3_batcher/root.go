package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "s3_batcher",
		Short:         "Move files between S3 and the local filesystem in bounded-concurrency batches",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.envFile, "env-file", "", "load environment from this file (default .env when present)")
	pf.StringVar(&flags.region, "region", "", "AWS region, overrides AWS_REGION")
	pf.IntVar(&flags.concurrency, "concurrency", 0, "maximum simultaneous transfers, overrides MAX_CONCURRENCY")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "do not draw progress bars")

	root.AddCommand(
		newServeCmd(a),
		newDownloadCmd(a),
		newDownloadManyCmd(a, flags),
		newDownloadPathsCmd(a, flags),
		newUploadCmd(a),
		newUploadManyCmd(a, flags),
	)

	return root
}
