package main

import (
	"github.com/spf13/cobra"

	"ycrdt/crdtstorage"
	"ycrdt/internal/ylog"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	logLevel   string
	configPath string
	encoding   string
	format     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ycrdt",
		Short: "Inspect and manipulate CRDT document updates",
		Long: `ycrdt works on v1 document updates: it decodes them into readable
reports, merges and diffs them, computes state vectors and renders the
documents they describe. The store commands operate on update logs kept
by a crdtstorage backend configured with --config.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ylog.SetLevel(opts.logLevel)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "error", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.configPath, "config", "", "storage options YAML file")
	flags.StringVar(&opts.encoding, "encoding", string(encodingBinary), "payload encoding for input and output (binary, hex, base64)")
	flags.StringVar(&opts.format, "format", string(formatYAML), "report format (yaml, json)")

	cmd.AddCommand(
		newDecodeCmd(opts),
		newMergeCmd(opts),
		newStateVectorCmd(opts),
		newDiffCmd(opts),
		newShowCmd(opts),
		newStoreCmd(opts),
	)
	return cmd
}

// storageOptions loads --config, or the defaults when it is not set.
func (o *rootOptions) storageOptions() (*crdtstorage.Options, error) {
	if o.configPath == "" {
		return crdtstorage.DefaultOptions(), nil
	}
	return crdtstorage.LoadOptions(o.configPath)
}
