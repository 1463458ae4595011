// Command orizon-heap boots a heap runtime from configuration, attaches the
// configured regions and reports on them.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/orizon-lang/heapregion/internal/cli"
	"github.com/orizon-lang/heapregion/internal/config"
	hlog "github.com/orizon-lang/heapregion/internal/log"
	"github.com/orizon-lang/heapregion/internal/runtime/gcphase"
	"github.com/orizon-lang/heapregion/internal/runtime/heap"
	"github.com/orizon-lang/heapregion/internal/runtime/telemetry"
)

const toolName = "orizon-heap"

type options struct {
	touch       bool
	zero        bool
	scan        bool
	watch       bool
	showVersion bool
	jsonOutput  bool
}

func (o *options) registerFlags(f *flag.FlagSet) {
	f.BoolVar(&o.touch, "touch", false, "Touch every page of each region after attaching it.")
	f.BoolVar(&o.zero, "zero", false, "Zero every region with the parallel phase driver.")
	f.BoolVar(&o.scan, "scan", false, "Scan each region for references into every other region (debug builds).")
	f.BoolVar(&o.watch, "watch", false, "Keep running and apply verbosity changes from -config.file until interrupted.")
	f.BoolVar(&o.showVersion, "version", false, "Show version information.")
	f.BoolVar(&o.jsonOutput, "json", false, "Output version information in JSON format.")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fs := flag.NewFlagSet(toolName, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", toolName)
		fmt.Fprintf(os.Stderr, "Attach heap regions and report on them.\n\nOPTIONS:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s -heap.region nursery=4MB -heap.region mature=64MB -zero\n", toolName)
		fmt.Fprintf(os.Stderr, "  %s -config.file heap.yaml -watch -metrics.addr :9100\n", toolName)
	}
	if err := run(ctx, fs, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		cli.ExitWithError("%v", err)
	}
}

func run(ctx context.Context, fs *flag.FlagSet, args []string, stdout, stderr io.Writer) error {
	var o options
	o.registerFlags(fs)
	cfg, err := config.Parse(fs, args)
	if err != nil {
		return err
	}
	if o.showVersion {
		cli.PrintVersion(stdout, toolName, cli.GetVersionInfo(heap.BuildTags()), o.jsonOutput)
		return nil
	}

	logger, err := hlog.New(stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt := heap.New(heap.Options{
		MaxHeaps:        cfg.MaxHeaps,
		Logger:          logger,
		Registerer:      reg,
		ImageConstraint: cfg.ImageConstraint,
	})
	reg.MustRegister(telemetry.NewSnapshotCollector("orizon_heap_registry", func() map[string]float64 {
		return map[string]float64{
			"regions":     float64(rt.Registry.Len()),
			"capacity":    float64(rt.Registry.Cap()),
			"total_bytes": float64(rt.Registry.TotalSize()),
		}
	}))

	if cfg.MetricsAddr != "" {
		addr, shutdown, err := telemetry.StartMetricsServer(cfg.MetricsAddr, reg)
		if err != nil {
			return err
		}
		level.Info(logger).Log("msg", "serving metrics", "addr", addr)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	regions := make([]*heap.Region, 0, len(cfg.Heaps))
	defer func() {
		for _, r := range regions {
			if r.Attached() {
				r.Detach()
			}
		}
	}()
	for _, h := range cfg.Heaps {
		r := heap.NewRegion(rt, h.Name)
		r.SetVerbose(cfg.Verbose)
		r.Attach(int(h.Size.Bytes()))
		regions = append(regions, r)
		if o.touch {
			r.TouchPages()
		}
	}

	if o.zero {
		driver := gcphase.NewDriver(gcphase.SchedulerFor(cfg.Workers), logger, reg)
		for _, r := range regions {
			if err := driver.ZeroRegion(ctx, r); err != nil {
				return errors.Wrapf(err, "zero %s", r.Name())
			}
		}
		fmt.Fprintf(stdout, "zeroed %d regions with %d workers\n", len(regions), driver.Workers())
	}

	if o.scan {
		for _, r := range regions {
			for _, target := range regions {
				if r == target {
					continue
				}
				n := r.ParanoidScan(target, cfg.Verbose > 0)
				fmt.Fprintf(stdout, "%s -> %s: %d suspicious references\n", r.Name(), target.Name(), n)
			}
		}
	}

	rt.Registry.ShowAllHeaps(stdout)
	fmt.Fprintf(stdout, "total: %s in %d of %d regions\n",
		humanize.IBytes(uint64(rt.Registry.TotalSize())), rt.Registry.Len(), rt.Registry.Cap())

	if o.watch {
		return watch(ctx, fs, logger, regions)
	}
	return nil
}

// watch applies verbosity changes from the configuration file to the
// running regions until ctx is done.
func watch(ctx context.Context, fs *flag.FlagSet, logger log.Logger, regions []*heap.Region) error {
	path := fs.Lookup("config.file").Value.String()
	if path == "" {
		return errors.New("-watch needs -config.file")
	}
	level.Info(logger).Log("msg", "watching configuration", "file", path)
	return config.Watch(ctx, path, logger, func(c *config.Config) {
		for _, r := range regions {
			r.SetVerbose(c.Verbose)
		}
		level.Info(logger).Log("msg", "region verbosity updated", "verbose", c.Verbose)
	})
}
