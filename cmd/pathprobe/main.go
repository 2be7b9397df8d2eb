package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/meshtrace/pathprobe/internal/config"
	"github.com/meshtrace/pathprobe/internal/correlate"
	"github.com/meshtrace/pathprobe/internal/dedup"
	"github.com/meshtrace/pathprobe/internal/engine"
	"github.com/meshtrace/pathprobe/internal/geo"
	"github.com/meshtrace/pathprobe/internal/health"
	"github.com/meshtrace/pathprobe/internal/logging"
	"github.com/meshtrace/pathprobe/internal/metrics"
	"github.com/meshtrace/pathprobe/internal/rate"
	"github.com/meshtrace/pathprobe/internal/repeater"
	"github.com/meshtrace/pathprobe/internal/report"
	"github.com/meshtrace/pathprobe/internal/resolve"
	"github.com/meshtrace/pathprobe/internal/source"
	"github.com/meshtrace/pathprobe/internal/telemetry"
)

const version = "1.0.0"

func main() {
	var configFile string
	var framesFile string
	var ingest string
	var probeID string
	var runID string
	var workers int
	var recencyWeight float64
	var starBias float64
	var maxRangeKM float64
	var windowSec int
	var triggerRate float64
	var triggerBurst int
	var metricsAddr string
	var spoolDir string
	var outputFormat string
	var otelEndpoint string
	var otelInsecure bool
	var otelService string
	var mtlsCert, mtlsKey, mtlsCA string
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&framesFile, "frames", "", "path to newline-separated frame observations (hex[|path|sender])")
	flag.StringVar(&ingest, "ingest", "", "ingest endpoint (optional). If empty, prints batches to stdout")
	flag.StringVar(&probeID, "probe", "", "probe id")
	flag.StringVar(&runID, "run", "", "run id")
	flag.IntVar(&workers, "workers", 0, "concurrent frame workers")
	flag.Float64Var(&recencyWeight, "recency_weight", 0, "recency weight in combined hop score [0,1]")
	flag.Float64Var(&starBias, "star_bias", 0, "score multiplier for starred repeaters")
	flag.Float64Var(&maxRangeKM, "max_range_km", 0, "reject candidates farther than this (0 disables)")
	flag.IntVar(&windowSec, "window_sec", 0, "correlation window length in seconds")
	flag.Float64Var(&triggerRate, "trigger_rate_per_sec", 0, "per-sender correlation triggers per second")
	flag.IntVar(&triggerBurst, "trigger_burst", 0, "per-sender correlation trigger burst")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics listen addr (empty to disable)")
	flag.StringVar(&spoolDir, "spool_dir", "", "spool dir for failed batches")
	flag.StringVar(&outputFormat, "output_format", "", "output format (json, jsonl, csv)")
	flag.StringVar(&mtlsCert, "mtls_cert", "", "client cert (PEM) for mTLS to ingest")
	flag.StringVar(&mtlsKey, "mtls_key", "", "client key (PEM) for mTLS to ingest")
	flag.StringVar(&mtlsCA, "mtls_ca", "", "CA bundle (PEM) for mTLS to ingest")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pathprobe - mesh packet identity and path resolution engine\n")
		fmt.Fprintf(os.Stderr, "Resolves ambiguous repeater identifiers in mesh routing paths and\n")
		fmt.Fprintf(os.Stderr, "correlates duplicate transmissions of traced messages.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -frames=frames.txt -output_format=jsonl\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config=config.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  REDIS_ADDR       Redis server for the repeater store and dedup\n")
		fmt.Fprintf(os.Stderr, "  REDIS_QUEUE_ADDR Redis server for the frame queue\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL        Log level (debug, info, warn, error)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("pathprobe v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	log := logging.New()
	defer log.Sync()

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			log.Fatalw("failed to load config file", "file", configFile, "err", err)
		}
		log.Infow("loaded config from file", "file", configFile)
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	cfg.LoadFromEnv()

	flags := make(map[string]interface{})
	if framesFile != "" {
		flags["frames"] = framesFile
	}
	if probeID != "" {
		flags["probe"] = probeID
	}
	if runID != "" {
		flags["run"] = runID
	}
	if workers > 0 {
		flags["workers"] = workers
	}
	if recencyWeight > 0 {
		flags["recency_weight"] = recencyWeight
	}
	if starBias > 0 {
		flags["star_bias"] = starBias
	}
	if maxRangeKM > 0 {
		flags["max_range_km"] = maxRangeKM
	}
	if windowSec > 0 {
		flags["window_sec"] = windowSec
	}
	if triggerRate > 0 {
		flags["trigger_rate_per_sec"] = triggerRate
	}
	if triggerBurst > 0 {
		flags["trigger_burst"] = triggerBurst
	}
	if ingest != "" {
		flags["ingest"] = ingest
	}
	if metricsAddr != "" {
		flags["metrics_addr"] = metricsAddr
	}
	if spoolDir != "" {
		flags["spool_dir"] = spoolDir
	}
	if outputFormat != "" {
		flags["output_format"] = outputFormat
	}
	if mtlsCert != "" {
		flags["mtls_cert"] = mtlsCert
	}
	if mtlsKey != "" {
		flags["mtls_key"] = mtlsKey
	}
	if mtlsCA != "" {
		flags["mtls_ca"] = mtlsCA
	}
	if otelEndpoint != "" {
		flags["otel_endpoint"] = otelEndpoint
	}
	if otelService != "" {
		flags["otel_service"] = otelService
	}
	flags["otel_insecure"] = otelInsecure
	cfg.MergeWithFlags(flags)

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}
	if cfg.Frames == "" && cfg.RedisQueueAddr == "" {
		flag.Usage()
		os.Exit(1)
	}

	shutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.OTELService, cfg.OTELInsecure)
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("probe", cfg.Probe)
	healthHandler.SetMetadata("run", cfg.Run)
	healthHandler.SetMetadata("version", version)

	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// dedup backend
	var d dedup.Interface
	if cfg.RedisAddr != "" {
		rd, err := dedup.NewRedis(cfg.RedisAddr, 24*time.Hour)
		if err != nil {
			log.Fatalw("redis dedup init", "err", err)
		}
		log.Infow("redis dedup enabled", "addr", cfg.RedisAddr)
		d = rd
	} else {
		d = dedup.NewMemory()
		log.Infow("memory dedup enabled")
	}

	// repeater store
	var repo repeater.Repository
	var senders repeater.SenderLocator
	if cfg.RedisAddr != "" {
		store, err := repeater.NewRedis(cfg.RedisAddr)
		if err != nil {
			log.Fatalw("repeater store init", "err", err)
		}
		healthHandler.RegisterChecker("redis", health.NewRedisChecker(store.Ping))
		repo = store
		senders = store
	} else {
		mem := repeater.NewMemory()
		repo = mem
		senders = mem
		log.Warnw("no redis configured, repeater store is empty")
	}

	var bot *geo.Point
	if cfg.BotLatitude != nil {
		bot = &geo.Point{Lat: *cfg.BotLatitude, Lon: *cfg.BotLongitude}
	}

	resolver, err := resolve.New(resolve.Config{
		RecencyWeight: cfg.RecencyWeight,
		StarBias:      cfg.StarBiasMultiplier,
		MaxRangeKM:    cfg.MaxRangeKM,
	}, repo, log)
	if err != nil {
		log.Fatalw("resolver init", "err", err)
	}

	hist := correlate.NewHistory(cfg.HistorySize)
	window := correlate.NewWindow(time.Duration(cfg.WindowSec)*time.Second, hist, log)

	writer, err := report.NewStdoutWriter(cfg.OutputFormat)
	if err != nil {
		log.Fatalw("output writer init", "err", err)
	}
	batches := make(chan report.Batch, 1024)
	emitter := report.NewEmitter(cfg.Ingest, cfg.Probe, cfg.Run, 500, 2*time.Second,
		cfg.SpoolDir, writer, cfg.MTLSCert, cfg.MTLSKey, cfg.MTLSCA)
	go emitter.Run(ctx, batches, log)

	trigLimiter := rate.New(cfg.TriggerRatePerSec, cfg.TriggerBurst)
	eng := engine.New(cfg.Probe, cfg.Run, bot, cfg.MaxRepeaterAgeDays,
		d, repo, senders, resolver, window, hist, trigLimiter, batches, log)
	healthHandler.RegisterChecker("pipeline", health.NewPipelineChecker(eng.LastFrameAt, 10*time.Minute))

	obs := make(chan source.Observation, 8192)
	if cfg.RedisQueueAddr != "" {
		log.Infow("redis frame queue enabled", "addr", cfg.RedisQueueAddr, "key", cfg.RedisQueueKey)
		q, err := source.NewRedis(cfg.RedisQueueAddr, cfg.RedisQueueKey, 120*time.Second)
		if err != nil {
			log.Fatalw("redis queue init", "err", err)
		}
		go func() {
			defer close(obs)
			for {
				select {
				case <-ctx.Done():
					return
				default:
					o, ack, err := q.Lease(ctx)
					if err != nil {
						continue
					}
					if o.RawHex == "" {
						continue
					}
					obs <- o
					_ = ack()
				}
			}
		}()
	} else {
		f, err := os.Open(cfg.Frames)
		if err != nil {
			log.Fatalw("open frames file", "err", err)
		}
		go func() {
			defer close(obs)
			defer f.Close()
			sc := bufio.NewScanner(f)
			sc.Buffer(make([]byte, 0, 1024), 1024*1024)
			for sc.Scan() {
				o, ok := parseFrameLine(sc.Text())
				if ok {
					obs <- o
				}
			}
		}()
	}

	log.Infow("starting pathprobe",
		"probe", cfg.Probe,
		"run", cfg.Run,
		"workers", cfg.Workers,
		"window_sec", cfg.WindowSec,
		"config_file", configFile,
	)

	healthHandler.SetReady(true)

	eng.Run(ctx, obs, cfg.Workers)

	emitter.Drain(log)
	log.Infow("shutdown complete")
}

// parseFrameLine reads one observation line: frame hex, optionally followed
// by |routing string|sender key. Blank lines and comments are skipped.
func parseFrameLine(line string) (source.Observation, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return source.Observation{}, false
	}
	parts := strings.SplitN(line, "|", 3)
	o := source.Observation{RawHex: parts[0], TS: time.Now().UTC().Unix()}
	if len(parts) > 1 {
		o.PathString = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		o.SenderKey = strings.ToLower(strings.TrimSpace(parts[2]))
	}
	return o, true
}
