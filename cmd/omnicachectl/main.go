// Command omnicachectl reads a serialized omnicache cache-definition buffer
// and prints its header and block descriptors. It is read-only: no template
// is available to a standalone CLI (templates carry host callbacks), so
// this tool decodes the wire layout directly rather than calling
// omnicache.Deserialize, and therefore cannot report anything beyond what
// the buffer itself records.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joeycumines/omnicache"
)

func main() {
	var in string

	root := &cobra.Command{
		Use:   "omnicachectl [file]",
		Short: "Inspect a serialized omnicache cache definition",
		Long: `omnicachectl decodes the flat buffer produced by
omnicache.Serialize/SerializeInto and prints the cache header and its
block-descriptor array, without requiring the host's template (callbacks
are not part of the serialized layout, so they are never shown).

Reads from the path given as the first argument, or from stdin if omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				in = args[0]
			}
			return run(cmd.OutOrStdout(), in)
		},
	}

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(w io.Writer, path string) error {
	var buf []byte
	var err error
	if path == "" {
		buf, err = io.ReadAll(os.Stdin)
	} else {
		buf, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	header, blocks, err := omnicache.DecodeHeader(buf)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "id:          %s\n", header.ID)
	fmt.Fprintf(w, "time tag:    %s\n", header.TimeTag)
	fmt.Fprintf(w, "range:       initial=%v final=%v step=%v\n", header.Initial, header.Final, header.Step)
	fmt.Fprintf(w, "flags:       0x%08x\n", header.Flags)
	fmt.Fprintf(w, "blocks:      %d\n", len(blocks))
	fmt.Fprintf(w, "meta size:   %d\n", header.MetaSize)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tID\tDTYPE\tELEM SIZE\tFLAGS")
	for _, b := range blocks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t0x%02x\n", b.Index, b.ID, b.DType, b.ElementSize, b.Flags)
	}
	return tw.Flush()
}
