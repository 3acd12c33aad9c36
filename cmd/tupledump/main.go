package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lnsp/tuplestore/buffer"
	"github.com/lnsp/tuplestore/table"
	"github.com/lnsp/tuplestore/tuple"
	"gopkg.in/alecthomas/kingpin.v2"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(strings.TrimSuffix(s, "\n"), "\n", "\n    ") + "\n"
}

func dumpSchema(w io.Writer, schema *tuple.Schema, header bool) {
	fmt.Fprintf(w, "schema %s (%d bytes)\n", schema.Name(), schema.Size())
	for i, f := range schema.Fields() {
		fmt.Fprintf(w, "  %2d %v\n", i, f)
	}
	if header {
		fmt.Fprint(w, indent(buffer.Wrap(tuple.EncodeSchema(schema)).Dump()))
	}
}

func dumpTable(w io.Writer, t *table.Table, hex bool, limit int) error {
	scanner := t.Scan()
	value := tuple.New(t.Schema)
	rows := 0
	for (limit <= 0 || rows < limit) && scanner.Next() {
		record := &table.Record{}
		if err := record.FromBytes(scanner.Value()); err != nil {
			return fmt.Errorf("row %d: %w", rows, err)
		}
		if err := record.Decode(value); errors.Is(err, table.ErrDeleted) {
			fmt.Fprintf(w, "%q v%d deleted\n", scanner.Key(), record.Version)
		} else if err != nil {
			return fmt.Errorf("row %d: %w", rows, err)
		} else {
			fmt.Fprintf(w, "%q v%d %v\n", scanner.Key(), record.Version, value)
			if hex {
				fmt.Fprint(w, indent(buffer.Wrap(record.Data).Dump()))
			}
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d rows\n", rows)
	return nil
}

func run() error {
	app := kingpin.New("tupledump", "Prints the schema and rows of a tuple table.")
	app.HelpFlag.Short('h')
	var (
		name   = app.Arg("table", "Table name without suffix.").Required().String()
		hex    = app.Flag("hex", "Hex dump the data encoding of each row.").Bool()
		header = app.Flag("header", "Hex dump the header encoding of the schema.").Bool()
		limit  = app.Flag("limit", "Maximum number of rows, zero prints all.").Short('n').Default("0").Int()
	)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	t, err := table.Open(strings.TrimSuffix(*name, ".table"))
	if err != nil {
		return err
	}
	defer t.Close()
	dumpSchema(os.Stdout, t.Schema, *header)
	if !t.Empty() {
		fmt.Printf("keys %q .. %q\n", t.Begin, t.End)
	}
	return dumpTable(os.Stdout, t, *hex, *limit)
}
