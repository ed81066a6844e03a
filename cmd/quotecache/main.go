package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"quotecache/internal/cli"
	"quotecache/internal/config"
	"quotecache/internal/history"
	"quotecache/internal/store"
	"quotecache/internal/svc"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitUnavailable = 2
)

const usage = `usage: quotecache [-f config] <history|coverage|purge> -symbol S -start YYYY-MM-DD -end YYYY-MM-DD [-adjust none|forward|backward]`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type request struct {
	command string
	query   history.Query
	timeout time.Duration
}

func parseArgs(args []string, defaultAdjust market.Adjust) (req request, err error) {
	global := flag.NewFlagSet("quotecache", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	global.String("f", "etc/quotecache.yaml", "the config file")
	if err := global.Parse(args); err != nil {
		return req, err
	}
	if global.NArg() == 0 {
		return req, errors.New("missing command")
	}
	req.command = global.Arg(0)
	switch req.command {
	case "history", "coverage", "purge":
	default:
		return req, fmt.Errorf("unknown command %q", req.command)
	}

	sub := flag.NewFlagSet(req.command, flag.ContinueOnError)
	sub.SetOutput(io.Discard)
	symbol := sub.String("symbol", "", "instrument symbol")
	start := sub.String("start", "", "first date, YYYY-MM-DD")
	end := sub.String("end", "", "last date, YYYY-MM-DD")
	adjust := sub.String("adjust", string(defaultAdjust), "none|forward|backward")
	sub.DurationVar(&req.timeout, "timeout", 2*time.Minute, "overall deadline")
	if err := sub.Parse(global.Args()[1:]); err != nil {
		return req, err
	}

	req.query.Symbol = *symbol
	if req.query.Start, err = calendar.ParseDate(*start); err != nil {
		return req, fmt.Errorf("%w: start: %v", history.ErrInvalidDateRange, err)
	}
	if req.query.End, err = calendar.ParseDate(*end); err != nil {
		return req, fmt.Errorf("%w: end: %v", history.ErrInvalidDateRange, err)
	}
	if req.query.Adjust, err = market.ParseAdjust(*adjust); err != nil {
		return req, err
	}
	return req, nil
}

func configPath(args []string) string {
	global := flag.NewFlagSet("quotecache", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	p := global.String("f", "etc/quotecache.yaml", "the config file")
	_ = global.Parse(args)
	return *p
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(configPath(args))
	if err != nil {
		fmt.Fprintf(stderr, "quotecache: %v\n", err)
		return exitFailure
	}
	req, err := parseArgs(args, cfg.DefaultAdjust())
	if err != nil {
		fmt.Fprintf(stderr, "quotecache: %v\n%s\n", err, usage)
		return exitFailure
	}

	logx.MustSetup(cfg.Log)
	logx.DisableStat()
	cli.LogConfigSummary(cfg)

	svcCtx, err := svc.NewServiceContext(ctx, *cfg)
	if err != nil {
		fmt.Fprintf(stderr, "quotecache: %v\n", err)
		return exitFailure
	}
	defer func() {
		if err := svcCtx.Close(); err != nil {
			logx.Errorf("close service context: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	out, err := execute(ctx, svcCtx.History, req)
	if err != nil {
		var partial *history.PartialError
		if errors.As(err, &partial) {
			_ = writeJSON(stdout, map[string]any{"error": err.Error(), "history": partial.History})
		}
		fmt.Fprintf(stderr, "quotecache: %v\n", err)
		return exitCode(err)
	}
	if err := writeJSON(stdout, out); err != nil {
		fmt.Fprintf(stderr, "quotecache: write output: %v\n", err)
		return exitFailure
	}
	return exitOK
}

type coverageOutput struct {
	history.CoverageReport
	Ratio  float64            `json:"ratio"`
	Marks  []store.NoDataMark `json:"no_data_marks,omitempty"`
	Symbol string             `json:"symbol"`
}

func execute(ctx context.Context, service *history.Service, req request) (any, error) {
	switch req.command {
	case "history":
		return service.GetPriceHistory(ctx, req.query)
	case "coverage":
		report, err := service.GetCacheCoverage(ctx, req.query)
		if err != nil {
			return nil, err
		}
		marks, err := service.AcceptedGaps(ctx, req.query)
		if err != nil {
			return nil, err
		}
		return coverageOutput{CoverageReport: report, Ratio: report.Ratio(), Marks: marks, Symbol: store.NormalizeSymbol(req.query.Symbol)}, nil
	case "purge":
		return service.Purge(ctx, req.query)
	default:
		return nil, fmt.Errorf("unknown command %q", req.command)
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, history.ErrUpstreamUnavailable):
		return exitUnavailable
	default:
		return exitFailure
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
