package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kvrun/internal/ctxstore"
	"github.com/samcharles93/kvrun/pkg/ctxbin"
)

func inspectCmd() *cli.Command {
	var (
		modelPath string
		showVocab bool
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print the sections and graph descriptors of a context binary",
		ArgsUsage: "[context.bin]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to the context binary",
				Destination: &modelPath,
			},
			&cli.BoolFlag{
				Name:        "vocab",
				Usage:       "list the embedded vocabulary",
				Destination: &showVocab,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if modelPath == "" {
				modelPath = cmd.Args().First()
			}
			if modelPath == "" {
				return cli.Exit("error: a context binary is required", 1)
			}
			f, err := ctxstore.Open(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open context binary: %v", err), 1)
			}
			defer f.Close()

			if err := writeInspect(cmd.Root().Writer, f, showVocab); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return nil
		},
	}
}

func writeInspect(w io.Writer, f *ctxstore.File, showVocab bool) error {
	fmt.Fprintf(w, "size: %s\n", humanize.IBytes(uint64(f.Size())))
	md := f.Metadata()
	if md.Model != "" {
		fmt.Fprintf(w, "model: %s\n", md.Model)
	}
	if md.ContextLength > 0 {
		fmt.Fprintf(w, "context length: %d\n", md.ContextLength)
	}
	if md.EOSTokenID != nil {
		fmt.Fprintf(w, "eos token id: %d\n", *md.EOSTokenID)
	}
	fmt.Fprintln(w)

	renderTable(w, []string{"SECTION", "VERSION", "OFFSET", "SIZE"}, func() (rows [][]string) {
		for _, s := range f.Sections() {
			rows = append(rows, []string{
				ctxbin.SectionType(s.Type).String(),
				strconv.FormatUint(uint64(s.Version), 10),
				strconv.FormatUint(s.Offset, 10),
				humanize.IBytes(s.Size),
			})
		}
		return rows
	})

	prefill, decode, selErr := f.SelectGraphs()
	renderTable(w, []string{"GRAPH", "ROLE", "DIR", "TENSOR", "DTYPE", "DIMS"}, func() (rows [][]string) {
		for _, g := range f.Graphs() {
			role := graphRole(prefill != nil && g.Name == prefill.Name, decode != nil && g.Name == decode.Name)
			for _, t := range g.Inputs {
				rows = append(rows, []string{g.Name, role, "in", t.Name, t.DType, formatDims(t.Dims)})
			}
			for _, t := range g.Outputs {
				rows = append(rows, []string{g.Name, role, "out", t.Name, t.DType, formatDims(t.Dims)})
			}
		}
		return rows
	})
	if selErr != nil {
		fmt.Fprintf(w, "graph selection: %v\n", selErr)
	} else {
		fmt.Fprintf(w, "prefill: %s\ndecode:  %s\n", prefill, decode)
	}

	if !showVocab {
		return nil
	}
	v, err := f.Vocab()
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	renderTable(w, []string{"ID", "TOKEN"}, func() (rows [][]string) {
		for i, tok := range v.Tokens() {
			rows = append(rows, []string{strconv.Itoa(i), strconv.Quote(tok)})
		}
		return rows
	})
	return nil
}

func renderTable(w io.Writer, header []string, rows func() [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows())
	table.Render()
	fmt.Fprintln(w)
}

func graphRole(isPrefill, isDecode bool) string {
	switch {
	case isPrefill && isDecode:
		return "prefill+decode"
	case isPrefill:
		return "prefill"
	case isDecode:
		return "decode"
	default:
		return "-"
	}
}

func formatDims(dims []uint32) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.FormatUint(uint64(d), 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
