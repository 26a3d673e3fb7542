package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/HZDR-FWDF/RISA/internal/config"
	"github.com/HZDR-FWDF/RISA/internal/logging"
	"github.com/HZDR-FWDF/RISA/internal/memory"
	"github.com/HZDR-FWDF/RISA/internal/monitoring"
	"github.com/HZDR-FWDF/RISA/internal/pipeline"
	"github.com/HZDR-FWDF/RISA/internal/server"
	"github.com/HZDR-FWDF/RISA/internal/stages/attenuation"
	"github.com/HZDR-FWDF/RISA/internal/stages/backprojection"
	"github.com/HZDR-FWDF/RISA/internal/stages/filtering"
	"github.com/HZDR-FWDF/RISA/internal/stages/interpolation"
	"github.com/HZDR-FWDF/RISA/internal/stages/loader"
	"github.com/HZDR-FWDF/RISA/internal/stages/masking"
	"github.com/HZDR-FWDF/RISA/internal/stages/receiver"
	"github.com/HZDR-FWDF/RISA/internal/stages/reordering"
	"github.com/HZDR-FWDF/RISA/internal/stages/saver"
	"github.com/HZDR-FWDF/RISA/internal/stages/transfer"
)

// defaultQueueLimit bounds the inter-stage queues; backpressure depends on
// this staying finite.
const defaultQueueLimit = 10

func main() {
	configPath := flag.String("config", "config.json", "Path to the scanner configuration file")
	mode := flag.String("mode", "online", "Source mode: online, offline or perf")
	address := flag.String("address", "0.0.0.0", "Bind address for the detector module sockets")
	input := flag.String("input", "", "Input directory of recorded HIS files (offline/perf mode)")
	output := flag.String("output", "output", "Output directory for reconstructed slices")
	prefix := flag.String("prefix", "slice", "File name prefix for reconstructed slices")
	frames := flag.Uint64("frames", 10000, "Number of frames to replay in perf mode")
	compress := flag.Bool("compress", false, "Compress written slices with zstd")
	flag.Parse()

	runtime := config.RuntimeOrDefault()
	log, err := logging.New(logging.Config{
		Level:       runtime.Logging.Level,
		Development: runtime.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*configPath, *mode, *address, *input, *output, *prefix, *frames, *compress, runtime, log); err != nil {
		log.Fatal("reconstruction failed", zap.Error(err))
	}
}

func run(configPath, mode, address, input, output, prefix string, frames uint64, compress bool, runtime *config.Runtime, log *logging.Logger) error {
	cfg, err := config.Open(configPath)
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics()
	srv := server.New(mode, metrics, log)
	if runtime.Server.Enabled {
		srv.Start(runtime.Server.Host, runtime.Server.Port)
		defer srv.Close()
	}
	log.Info("starting reconstruction pipeline",
		zap.String("mode", mode),
		zap.String("config", configPath),
		zap.Int("devices", runtime.Devices.Count))

	queueLimit := defaultQueueLimit
	cfg.LookupValue("queueLimit", &queueLimit)

	defer memory.ShutdownPools()

	// Source.
	var (
		sourceStage *pipeline.SourceStage[*memory.Image[uint16]]
		stop        func()
		releases    []func()
	)
	switch mode {
	case "online":
		recv, err := receiver.New(address, cfg, receiver.Options{Log: log.Named("receiver"), PacketsLost: metrics.PacketsLost})
		if err != nil {
			return err
		}
		sourceStage = pipeline.NewSourceStage[*memory.Image[uint16]]("receiver", recv)
		stop = recv.Stop
		releases = append(releases, recv.Release)
	case "offline":
		ld, err := loader.New(input, cfg, loader.Options{Log: log.Named("loader")})
		if err != nil {
			return err
		}
		sourceStage = pipeline.NewSourceStage[*memory.Image[uint16]]("loader", ld)
		stop = ld.Stop
		releases = append(releases, ld.Release)
	case "perf":
		ld, err := loader.New(input, cfg, loader.Options{Log: log.Named("loader")})
		if err != nil {
			return err
		}
		perf, err := loader.NewPerf(ld, cfg, frames)
		if err != nil {
			return err
		}
		sourceStage = pipeline.NewSourceStage[*memory.Image[uint16]]("perf", perf)
		stop = perf.Stop
		releases = append(releases, perf.Release)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	// Compute stages.
	devices := runtime.Devices.Count
	h2d, err := transfer.NewH2D[uint16](cfg, transfer.Options{Devices: devices, QueueLimit: queueLimit, Log: log.Named("h2d"), Observer: metrics})
	if err != nil {
		return err
	}
	reorder, err := reordering.New(cfg, reordering.Options{Devices: devices, QueueLimit: queueLimit, Log: log.Named("reordering"), Observer: metrics})
	if err != nil {
		return err
	}
	atten, err := attenuation.New(cfg, attenuation.Options{Devices: devices, QueueLimit: queueLimit, Log: log.Named("attenuation"), Observer: metrics})
	if err != nil {
		return err
	}
	interp, err := interpolation.New(cfg, interpolation.Options{Devices: devices, QueueLimit: queueLimit, Log: log.Named("interpolation"), Observer: metrics})
	if err != nil {
		return err
	}
	filter, err := filtering.New(cfg, filtering.Options{Devices: devices, QueueLimit: queueLimit, Log: log.Named("filtering"), Observer: metrics})
	if err != nil {
		return err
	}
	backproject, err := backprojection.New(cfg, backprojection.Options{Devices: devices, QueueLimit: queueLimit, Log: log.Named("backprojection"), Observer: metrics})
	if err != nil {
		return err
	}
	mask, err := masking.New(cfg, masking.Options{Devices: devices, QueueLimit: queueLimit, Log: log.Named("masking"), Observer: metrics})
	if err != nil {
		return err
	}
	d2h, err := transfer.NewD2H[float32](cfg, transfer.Options{Devices: devices, QueueLimit: queueLimit, Log: log.Named("d2h"), Observer: metrics})
	if err != nil {
		return err
	}

	save, err := saver.New(output, prefix, saver.Options{Compress: compress, Log: log.Named("saver")})
	if err != nil {
		return err
	}

	// Wrap the runners into pipeline nodes and wire the graph.
	h2dStage := pipeline.NewStage[*memory.Image[uint16], *memory.Image[uint16]]("h2d", queueLimit, h2d)
	reorderStage := pipeline.NewStage[*memory.Image[uint16], *memory.Image[uint16]]("reordering", queueLimit, reorder)
	attenStage := pipeline.NewStage[*memory.Image[uint16], *memory.Image[float32]]("attenuation", queueLimit, atten)
	interpStage := pipeline.NewStage[*memory.Image[float32], *memory.Image[float32]]("interpolation", queueLimit, interp)
	filterStage := pipeline.NewStage[*memory.Image[float32], *memory.Image[float32]]("filtering", queueLimit, filter)
	bpStage := pipeline.NewStage[*memory.Image[float32], *memory.Image[float32]]("backprojection", queueLimit, backproject)
	maskStage := pipeline.NewStage[*memory.Image[float32], *memory.Image[float32]]("masking", queueLimit, mask)
	d2hStage := pipeline.NewStage[*memory.Image[float32], *memory.Image[float32]]("d2h", queueLimit, d2h)
	sink := pipeline.NewSinkStage[*memory.Image[float32]]("saver", queueLimit, save)

	pipeline.Connect[*memory.Image[uint16]](sourceStage, h2dStage)
	pipeline.Connect[*memory.Image[uint16]](h2dStage, reorderStage)
	pipeline.Connect[*memory.Image[uint16]](reorderStage, attenStage)
	pipeline.Connect[*memory.Image[float32]](attenStage, interpStage)
	pipeline.Connect[*memory.Image[float32]](interpStage, filterStage)
	pipeline.Connect[*memory.Image[float32]](filterStage, bpStage)
	pipeline.Connect[*memory.Image[float32]](bpStage, maskStage)
	pipeline.Connect[*memory.Image[float32]](maskStage, d2hStage)
	pipeline.Connect[*memory.Image[float32]](d2hStage, sink)

	releases = append(releases,
		h2d.Release, reorder.Release, atten.Release, interp.Release,
		filter.Release, backproject.Release, mask.Release, d2h.Release)

	var p pipeline.Pipeline
	p.Run(sourceStage, h2dStage, reorderStage, attenStage, interpStage, filterStage, bpStage, maskStage, d2hStage, sink)

	// Stop the source on SIGINT/SIGTERM and let the pipeline drain.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("shutting down, draining pipeline", zap.String("signal", sig.String()))
			stop()
		case <-done:
		}
	}()

	p.Wait()
	close(done)
	for _, release := range releases {
		release()
	}

	log.Info("pipeline drained",
		zap.Uint64("framesIn", sourceStage.Served()),
		zap.Uint64("slicesWritten", save.Written()))
	return nil
}
