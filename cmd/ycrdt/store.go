package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ycrdt/crdt"
	"ycrdt/crdtstorage"
)

func newStoreCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Work with update logs kept by a storage backend",
		Long: `Commands operating on the update logs of a crdtstorage backend. The
backend is configured with --config; without it the in-memory backend is
used, which starts empty.`,
	}
	cmd.AddCommand(
		newStoreListCmd(opts),
		newStoreImportCmd(opts),
		newStoreExportCmd(opts),
		newStoreCompactCmd(opts),
	)
	return cmd
}

// withStorage opens the configured backend for the duration of fn.
func withStorage(cmd *cobra.Command, opts *rootOptions, fn func(*crdtstorage.Storage, crdtstorage.UpdateStore) error) error {
	storageOpts, err := opts.storageOptions()
	if err != nil {
		return err
	}
	store, err := crdtstorage.NewStore(cmd.Context(), storageOpts)
	if err != nil {
		return err
	}
	storage, err := crdtstorage.NewStorage(store, storageOpts)
	if err != nil {
		store.Close()
		return err
	}
	defer storage.Close()
	return fn(storage, store)
}

func newStoreListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, opts, func(s *crdtstorage.Storage, _ crdtstorage.UpdateStore) error {
				ids, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

func newStoreImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <doc> <update>",
		Short: "Append an update to a document log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := readPayload(cmd, args[1], opts.encoding)
			if err != nil {
				return err
			}
			if _, err := crdt.DecodeUpdate(update); err != nil {
				return err
			}
			return withStorage(cmd, opts, func(_ *crdtstorage.Storage, store crdtstorage.UpdateStore) error {
				return store.Append(cmd.Context(), args[0], update)
			})
		},
	}
}

func newStoreExportCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <doc>",
		Short: "Write the merged log of a document as one update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, opts, func(_ *crdtstorage.Storage, store crdtstorage.UpdateStore) error {
				updates, err := store.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				merged, err := crdt.MergeUpdates(updates...)
				if err != nil {
					return err
				}
				return writePayload(cmd, output, opts.encoding, merged)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the update to a file instead of stdout")
	return cmd
}

func newStoreCompactCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compact <doc>...",
		Short: "Replace document logs with a single merged update",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, opts, func(s *crdtstorage.Storage, _ crdtstorage.UpdateStore) error {
				for _, id := range args {
					if err := s.Compact(cmd.Context(), id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
