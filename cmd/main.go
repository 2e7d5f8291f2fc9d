// Command tayframe computes indicator columns over OHLCV data from the
// command line.
//
//	tayframe compute -in bars.csv -study sma:c:20 -study rsi:14 [-out out.csv] [-places 2] [-table]
//	tayframe compute -db data/tayframe.db -symbol sh600000 -study rsi:14
//	tayframe fetch -symbol sh600000 [-days 120] [-provider tencent] [-db data/tayframe.db] [-out bars.csv]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"

	"tayframe/db"
	"tayframe/frame"
	"tayframe/logger"
	"tayframe/market"
	"tayframe/market/providers"
	"tayframe/pipeline"
)

// studyFlags collects repeated -study values.
type studyFlags []string

func (s *studyFlags) String() string { return strings.Join(*s, ",") }

func (s *studyFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.NewLogger(logger.WithWriter(os.Stderr), logger.WithLoggingLevel(logger.WarnLevel))
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, log logger.Interface) error {
	if len(args) == 0 {
		return errors.New("usage: tayframe <compute|fetch> [flags]")
	}
	switch args[0] {
	case "compute":
		return runCompute(ctx, args[1:], stdin, stdout, log)
	case "fetch":
		return runFetch(ctx, args[1:], stdout, log)
	}
	return errors.Errorf("unknown command %q", args[0])
}

func runCompute(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, log logger.Interface) error {
	fs := flag.NewFlagSet("compute", flag.ContinueOnError)
	var specs studyFlags
	in := fs.String("in", "-", "input CSV, - for stdin")
	out := fs.String("out", "", "output CSV, stdout when empty")
	places := fs.Int("places", 0, "round output to this many decimals")
	asTable := fs.Bool("table", false, "print a table instead of CSV")
	validate := fs.Bool("validate", true, "drop rows that fail validation")
	clean := fs.Bool("clean", false, "drop rows with any undefined column")
	dbPath := fs.String("db", "", "read the bars of -symbol from this database and save the computed columns back")
	symbol := fs.String("symbol", "", "symbol to load with -db")
	fs.Var(&specs, "study", "study to compute, repeatable (e.g. sma:c:20)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(specs) == 0 {
		return errors.New("at least one -study is required")
	}

	studies := make([]frame.Study, 0, len(specs))
	for _, spec := range specs {
		st, err := frame.ParseStudy(spec)
		if err != nil {
			return err
		}
		studies = append(studies, st)
	}

	var (
		series market.Series
		store  *db.Store
		err    error
	)
	if *dbPath != "" {
		if *symbol == "" {
			return errors.New("-symbol is required with -db")
		}
		store, err = db.Open(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		series, err = store.LoadSeries(ctx, *symbol, 0)
		if err != nil {
			return err
		}
		if len(series) == 0 {
			return errors.Errorf("no bars stored for %s", *symbol)
		}
	} else {
		series, err = readSeries(*in, stdin)
		if err != nil {
			return err
		}
	}

	if *validate {
		kept, issues := pipeline.NewValidator().Filter(series)
		for _, issue := range issues {
			log.Warn("row rejected",
				logger.NewField("index", issue.Index),
				logger.NewField("rule", issue.Rule),
				logger.NewField("message", issue.Message))
		}
		series = kept

		anomalies, err := pipeline.NewAnomalyDetector().Detect(series)
		if err != nil {
			return err
		}
		for _, a := range anomalies {
			log.Warn("anomaly",
				logger.NewField("t", a.T),
				logger.NewField("type", a.Type),
				logger.NewField("description", a.Description))
		}
	}

	computed, err := frame.Compute(ctx, series, studies)
	if err != nil {
		return err
	}
	if store != nil {
		for _, st := range studies {
			for _, name := range st.Columns() {
				if err := store.SaveColumn(ctx, *symbol, name, computed); err != nil {
					return err
				}
			}
		}
		log.Info("saved columns", logger.NewField("symbol", *symbol), logger.NewField("studies", len(studies)))
	}
	if *clean {
		computed = frame.Clean(computed)
	}

	w := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return errors.Wrap(err, "create output")
		}
		defer f.Close()
		w = f
	}

	if *asTable {
		renderTable(w, computed, *places)
		return nil
	}
	return frame.WriteCSV(w, computed, *places)
}

func readSeries(path string, stdin io.Reader) (market.Series, error) {
	if path == "-" {
		return frame.ReadCSV(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open input")
	}
	defer f.Close()
	return frame.ReadCSV(f)
}

func renderTable(w io.Writer, s market.Series, places int) {
	extras := frame.ExtraColumns(s)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := table.Row{}
	for _, f := range market.CoreFields {
		header = append(header, string(f))
	}
	for _, name := range extras {
		header = append(header, name)
	}
	t.AppendHeader(header)

	for _, r := range s {
		row := table.Row{r.T,
			frame.FormatValue(r.O, places),
			frame.FormatValue(r.H, places),
			frame.FormatValue(r.L, places),
			frame.FormatValue(r.C, places),
			frame.FormatValue(r.V, places),
		}
		for _, name := range extras {
			v, ok := r.Extra[name]
			if !ok {
				v = market.Undefined()
			}
			row = append(row, frame.FormatValue(v, places))
		}
		t.AppendRow(row)
	}
	t.Render()
}

func runFetch(ctx context.Context, args []string, stdout io.Writer, log logger.Interface) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	symbol := fs.String("symbol", "", "symbol to download, e.g. sh600000")
	days := fs.Int("days", 120, "number of daily bars")
	dbPath := fs.String("db", "", "store the bars in this database")
	provider := fs.String("provider", "", "preferred upstream, sina or tencent")
	out := fs.String("out", "", "write the bars to this CSV, stdout when empty and -db is unset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol == "" {
		return errors.New("-symbol is required")
	}

	source := providers.NewManager(log, market.NewFetcher(), providers.NewTencent())
	if *provider != "" {
		if err := source.SetPrimary(*provider); err != nil {
			return err
		}
	}
	series, err := source.FetchHistory(ctx, *symbol, *days)
	if err != nil {
		return err
	}
	log.Info("fetched history", logger.NewField("symbol", *symbol), logger.NewField("rows", len(series)))

	if *dbPath != "" {
		store, err := db.Open(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		report := pipeline.NewValidator().Validate(series)
		if err := store.SaveIssues(ctx, *symbol, report.Issues); err != nil {
			return err
		}
		if err := store.SaveSeries(ctx, *symbol, series); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "saved %d bars for %s\n", len(series), *symbol)
	}

	switch {
	case *out != "":
		f, err := os.Create(*out)
		if err != nil {
			return errors.Wrap(err, "create output")
		}
		defer f.Close()
		return frame.WriteCSV(f, series, 0)
	case *dbPath == "":
		return frame.WriteCSV(stdout, series, 0)
	}
	return nil
}
