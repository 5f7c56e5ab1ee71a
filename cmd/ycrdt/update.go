package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"ycrdt/common"
	"ycrdt/crdt"
)

func newDecodeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <update>",
		Short: "Print the structs and deletions of an update",
		Long: `Decode a v1 update and print every struct it carries, in the order it
was encoded, followed by its delete set. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := readPayload(cmd, args[0], opts.encoding)
			if err != nil {
				return err
			}
			info, err := crdt.DecodeUpdate(update)
			if err != nil {
				return err
			}
			return writeReport(cmd, opts.format, info)
		},
	}
}

func newMergeCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "merge <update>...",
		Short: "Merge updates into one",
		Long: `Merge any number of v1 updates into a single update equivalent to
applying all of them. Structs that depend on missing ones are kept.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates := make([][]byte, len(args))
			for i, path := range args {
				update, err := readPayload(cmd, path, opts.encoding)
				if err != nil {
					return err
				}
				updates[i] = update
			}
			merged, err := crdt.MergeUpdates(updates...)
			if err != nil {
				return err
			}
			return writePayload(cmd, output, opts.encoding, merged)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the merged update to a file instead of stdout")
	return cmd
}

func newStateVectorCmd(opts *rootOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "statevector <update>",
		Short: "Compute the state vector an update brings a document to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := readPayload(cmd, args[0], opts.encoding)
			if err != nil {
				return err
			}
			encoded, err := crdt.EncodeStateVectorFromUpdate(update)
			if err != nil {
				return err
			}
			if raw {
				return writePayload(cmd, "", opts.encoding, encoded)
			}
			sv, err := crdt.DecodeStateVector(encoded)
			if err != nil {
				return err
			}
			return writeReport(cmd, opts.format, sv.Map())
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the encoded state vector instead of a report")
	return cmd
}

func newDiffCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "diff <update> <statevector>",
		Short: "Strip from an update what a state vector already covers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := readPayload(cmd, args[0], opts.encoding)
			if err != nil {
				return err
			}
			sv, err := readPayload(cmd, args[1], opts.encoding)
			if err != nil {
				return err
			}
			diff, err := crdt.DiffUpdate(update, sv)
			if err != nil {
				return err
			}
			return writePayload(cmd, output, opts.encoding, diff)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the diff to a file instead of stdout")
	return cmd
}

// showReport is the document content printed by show.
type showReport struct {
	Roots   map[string]interface{}     `json:"roots" yaml:"roots"`
	Pending map[common.ClientID]uint64 `json:"pending,omitempty" yaml:"pending,omitempty"`
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	var texts, arrays, maps []string
	cmd := &cobra.Command{
		Use:   "show <update>...",
		Short: "Apply updates to an empty document and print its roots",
		Long: `Apply the updates in order to an empty document and print the named
roots. Updates do not record root kinds, so every root to print is named
with --text, --array or --map.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(texts)+len(arrays)+len(maps) == 0 {
				return errors.New("name at least one root with --text, --array or --map")
			}

			doc := crdt.NewDoc()
			for _, path := range args {
				update, err := readPayload(cmd, path, opts.encoding)
				if err != nil {
					return err
				}
				if err := crdt.ApplyUpdate(doc, update); err != nil {
					return errors.Wrap(err, path)
				}
			}

			report, err := renderRoots(doc, texts, arrays, maps)
			if err != nil {
				return err
			}
			return writeReport(cmd, opts.format, report)
		},
	}
	cmd.Flags().StringSliceVar(&texts, "text", nil, "root to print as text")
	cmd.Flags().StringSliceVar(&arrays, "array", nil, "root to print as an array")
	cmd.Flags().StringSliceVar(&maps, "map", nil, "root to print as a map")
	return cmd
}

func renderRoots(doc *crdt.Doc, texts, arrays, maps []string) (*showReport, error) {
	report := &showReport{Roots: make(map[string]interface{})}
	err := doc.Transact(func(txn *crdt.Transaction) error {
		for _, name := range texts {
			text, err := txn.GetText(name)
			if err != nil {
				return err
			}
			if report.Roots[name], err = text.ToString(txn); err != nil {
				return err
			}
		}
		for _, name := range arrays {
			arr, err := txn.GetArray(name)
			if err != nil {
				return err
			}
			if report.Roots[name], err = arr.ToJSON(txn); err != nil {
				return err
			}
		}
		for _, name := range maps {
			m, err := txn.GetMap(name)
			if err != nil {
				return err
			}
			if report.Roots[name], err = m.ToJSON(txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if pending := doc.PendingStateVector(); pending != nil {
		report.Pending = pending.Map()
	}
	return report, nil
}
