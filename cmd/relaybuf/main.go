// Command relaybuf copies standard input to standard output through a
// fixed-size ring buffer, so either end can stall for a while without
// holding up the other.
//
//	relaybuf [flags] [capacity]
//
// The capacity accepts plain byte counts or sizes such as 64KiB or 16M and
// is rounded up to a power of two. It defaults to 1GiB.
package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/xerrors"

	"github.com/jacoelho/relaybuf"
)

const defaultCapacity = 1 << 30

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

type config struct {
	requested uint64
	capacity  int
	logLevel  zapcore.Level
	logFormat string
	stats     bool
}

func main() {
	os.Exit(run(os.Args[1:], int(os.Stdin.Fd()), int(os.Stdout.Fd()), os.Stderr))
}

func run(args []string, stdin, stdout int, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "relaybuf: %v\n", err)
		return exitUsage
	}

	logger := newLogger(cfg, stderr)
	defer func() { _ = logger.Sync() }()

	if uint64(cfg.capacity) != cfg.requested {
		logger.Warn("capacity rounded up to a power of two",
			zap.Uint64("requested", cfg.requested),
			zap.Int("capacity", cfg.capacity),
		)
	}

	if err := relay(cfg, logger, stdin, stdout); err != nil {
		return exitFatal
	}
	return exitOK
}

// relay copies stdin to stdout through a ring of cfg.capacity bytes.
func relay(cfg config, logger *zap.Logger, stdin, stdout int) error {
	in, err := relaybuf.OpenFD(stdin)
	if err != nil {
		logger.Error("open stdin", zap.Error(err))
		return err
	}
	out, err := relaybuf.OpenFD(stdout)
	if err != nil {
		logger.Error("open stdout", zap.Error(err))
		_ = in.Close()
		return err
	}
	poller, err := relaybuf.NewFDPoller(in.Fd(), out.Fd())
	if err != nil {
		logger.Error("create poller", zap.Error(err))
		_ = out.Close()
		_ = in.Close()
		return err
	}

	r := relaybuf.NewRelay(in, out, relaybuf.NewRingBuffer(cfg.capacity), poller,
		relaybuf.WithLogger(logger))
	err = r.Run()

	if cfg.stats {
		s := r.Stats()
		logger.Info("relay stats",
			zap.String("read", humanize.IBytes(uint64(s.BytesRead))),
			zap.String("written", humanize.IBytes(uint64(s.BytesWritten))),
			zap.String("high_water", humanize.IBytes(uint64(s.HighWater))),
			zap.Int64("iterations", s.Iterations),
			zap.Int("dropped", s.Dropped),
		)
	}
	return err
}

func parseConfig(args []string, stderr io.Writer) (config, error) {
	fs := pflag.NewFlagSet("relaybuf", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: relaybuf [flags] [capacity]\n\n")
		fmt.Fprintf(stderr, "capacity defaults to %s and is rounded up to a power of two\n\n",
			humanize.IBytes(defaultCapacity))
		fs.PrintDefaults()
	}

	level := fs.String("log-level", "warn", "log level: debug, info, warn or error")
	format := fs.String("log-format", "console", "log encoding: console or json")
	stats := fs.Bool("stats", false, "log transfer statistics on exit")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{requested: defaultCapacity, logFormat: *format, stats: *stats}

	lvl, err := zapcore.ParseLevel(*level)
	if err != nil {
		return config{}, err
	}
	cfg.logLevel = lvl
	if cfg.stats && cfg.logLevel > zapcore.InfoLevel {
		cfg.logLevel = zapcore.InfoLevel
	}

	switch cfg.logFormat {
	case "console", "json":
	default:
		return config{}, xerrors.Errorf("unknown log format %q", cfg.logFormat)
	}

	switch fs.NArg() {
	case 0:
	case 1:
		cfg.requested, err = parseCapacity(fs.Arg(0))
		if err != nil {
			return config{}, err
		}
	default:
		return config{}, xerrors.Errorf("expected at most one capacity argument, got %d", fs.NArg())
	}
	cfg.capacity = relaybuf.RoundCapacity(int(cfg.requested))
	return cfg, nil
}

// parseCapacity accepts a byte count with an optional SI or IEC suffix.
func parseCapacity(s string) (uint64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, xerrors.Errorf("invalid capacity %q: %w", s, err)
	}
	if n == 0 {
		return 0, xerrors.Errorf("invalid capacity %q: must be positive", s)
	}
	// Rounding must still fit in an int.
	if n > math.MaxInt/2+1 {
		return 0, xerrors.Errorf("invalid capacity %q: too large", s)
	}
	return n, nil
}

func newLogger(cfg config, w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.logFormat == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), cfg.logLevel)
	return zap.New(core).Named("relaybuf")
}
