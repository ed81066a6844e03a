package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"quotecache/internal/cli"
	"quotecache/internal/config"
	"quotecache/internal/svc"
)

const shutdownTimeout = 30 * time.Second // grace period for an in-flight pass

var (
	configFile = flag.String("f", "etc/quotecache.yaml", "the config file")
	once       = flag.Bool("once", false, "run a single warm pass and exit")
	symbolsArg = flag.String("symbols", "", "comma separated symbols, overrides Warm.Symbols")
)

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	logx.MustSetup(cfg.Log)
	logx.DisableStat()
	cli.LogConfigSummary(cfg)

	symbols := parseSymbols(strings.Join(cfg.Warm.Symbols, ","))
	if *symbolsArg != "" {
		symbols = parseSymbols(*symbolsArg)
	}
	if len(symbols) == 0 {
		fatalf("no symbols to warm, set Warm.Symbols or -symbols")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCtx := svc.MustNewServiceContext(*cfg)
	defer func() {
		if err := svcCtx.Close(); err != nil {
			logx.Errorf("close service context: %v", err)
		}
	}()

	w := &warmer{
		history:  svcCtx.History,
		symbols:  symbols,
		lookback: cfg.Warm.LookbackDays,
		adjust:   cfg.DefaultAdjust(),
	}

	if *once {
		if err := w.pass(ctx); err != nil {
			fatalf("warm pass: %v", err)
		}
		return
	}

	scheduler, err := newScheduler(ctx, cfg.Warm.Schedule, svcCtx.Calendar, w)
	if err != nil {
		fatalf("schedule warmer: %v", err)
	}
	scheduler.Start()
	logx.Infof("warmer started schedule=%q zone=%s symbols=%v", cfg.Warm.Schedule, svcCtx.Calendar.Location(), symbols)

	<-ctx.Done()
	logx.Info("shutdown signal received, stopping scheduler")

	done := scheduler.Stop()
	select {
	case <-done.Done():
		logx.Info("warmer stopped cleanly")
	case <-time.After(shutdownTimeout):
		logx.Error("shutdown timeout exceeded, forcing exit")
	}
}

func fatalf(format string, args ...any) {
	logx.Errorf(format, args...)
	logx.Close()
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
