// Command laserloc localises a vehicle against a likelihood map from a stream
// of range scans, using grid search, a particle filter or both side by side.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/amsl/laserloc/internal/fsutil"
	"github.com/amsl/laserloc/internal/localiser/mapstore"
	"github.com/amsl/laserloc/internal/localiser/monitor"
	"github.com/amsl/laserloc/internal/localiser/pipeline"
	"github.com/amsl/laserloc/internal/localiser/storage/sqlite"
	"github.com/amsl/laserloc/internal/localiser/visualiser"
	"github.com/amsl/laserloc/internal/serialmux"
	"github.com/amsl/laserloc/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to a .json/.yaml localiser config (defaults apply when empty)")
	mapPath    = flag.String("map", "", "Likelihood map file (.png, .pgm, .csv); empty uses the built-in survival pool")
	mode       = flag.String("mode", "", "Localisers to run: grid, pf or both (overrides config)")

	logPath    = flag.String("log", "", "Replay scans from a ground station log file")
	serialPort = flag.String("serial", "", "Read scans from the SiK radio on this serial device")
	udpAddr    = flag.String("udp", "", "Receive scan datagrams on this UDP address (e.g. :5000)")
	pcapPath   = flag.String("pcap", "", "Replay scan datagrams from a pcap capture")
	pcapPort   = flag.Int("pcap-port", 5000, "UDP destination port of scan datagrams in -pcap")

	baudRate = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	dataBits = flag.Int("data-bits", 8, "Serial data bits")
	stopBits = flag.Int("stop-bits", 1, "Serial stop bits (1 or 2)")
	parity   = flag.String("parity", "none", "Serial parity (none, odd, even)")
	framing  = flag.String("framing", serialmux.FramingSiK, "Serial framing: sik packets or text lines")

	outDir     = flag.String("out", ".", "Directory all output files must live under")
	dbPath     = flag.String("db", "", "SQLite database recording runs and estimates")
	plotsDir   = flag.String("plots", "", "Directory for PNG snapshots")
	plotEvery  = flag.Int("plot-every", 10, "Write a snapshot every N cycles")
	reportPath = flag.String("report", "", "Write an HTML trajectory report here on exit")

	listen   = flag.String("listen", "", "Debug HTTP listen address (e.g. localhost:8080)")
	grpcAddr = flag.String("grpc", "", "Estimate stream gRPC listen address (e.g. localhost:50051)")

	initX       = flag.Float64("x", 0, "Initial x guess in map units (overrides config)")
	initY       = flag.Float64("y", 0, "Initial y guess in map units (overrides config)")
	initHeading = flag.Float64("heading", 0, "Initial heading guess in degrees (overrides config)")

	maxScans     = flag.Int("max-scans", 0, "Stop after this many scans; 0 runs to end of stream")
	printVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *printVersion {
		fmt.Println(version.String("laserloc"))
		return
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	fsys := fsutil.OSFileSystem{}
	cfg, err := loadConfig(fsys, *configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyOverrides(cfg, set, overrides{
		Map:     *mapPath,
		Mode:    *mode,
		X:       *initX,
		Y:       *initY,
		Heading: *initHeading,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := validateOutputs(*outDir, *dbPath, *plotsDir, *reportPath); err != nil {
		log.Fatalf("invalid output path: %v", err)
	}

	m, err := loadMap(fsys, cfg)
	if err != nil {
		var mle *mapstore.MapLoadError
		if errors.As(err, &mle) {
			log.Fatalf("%v", mle)
		}
		log.Fatalf("failed to build map: %v", err)
	}
	log.Printf("map %dx%d scale %g", m.Width(), m.Height(), m.Scale())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	srcOpts := sourceOptions{
		LogPath:    *logPath,
		SerialPort: *serialPort,
		UDPAddr:    *udpAddr,
		PCAPPath:   *pcapPath,
		PCAPPort:   *pcapPort,
		Serial: serialmux.PortOptions{
			BaudRate: *baudRate,
			DataBits: *dataBits,
			StopBits: *stopBits,
			Parity:   *parity,
			Framing:  *framing,
		},
	}
	src, err := openSource(ctx, fsys, cfg, srcOpts, &wg)
	if err != nil {
		log.Fatalf("failed to open scan source: %v", err)
	}
	defer src.Close()

	locs, pf, err := buildLocalisers(cfg, m)
	if err != nil {
		log.Fatalf("failed to build localisers: %v", err)
	}

	runner := &pipeline.Runner{
		Source:     src,
		Localisers: locs,
		Sinks:      []pipeline.Sink{pipeline.LogSink{}},
		Budget:     cfg.GetCycleBudget(),
		MaxScans:   *maxScans,
	}

	var store *sqlite.Store
	if *dbPath != "" {
		store, err = sqlite.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer store.Close()
		runID, err := store.StartRun(ctx, sqlite.RunInfo{
			Localiser:  cfg.GetMode(),
			MapPath:    cfg.GetMapPath(),
			ConfigJSON: configJSON(cfg),
		})
		if err != nil {
			log.Fatalf("failed to start run: %v", err)
		}
		log.Printf("recording run %s to %s", runID, *dbPath)
		runner.Sinks = append(runner.Sinks, store)
	}

	trajectory := monitor.NewTrajectoryRecorder("laserloc " + cfg.GetMode())
	runner.Sinks = append(runner.Sinks, trajectory)

	if *plotsDir != "" {
		plotter := monitor.NewSnapshotPlotter(m, fsys, *plotsDir, *plotEvery)
		if pf != nil {
			plotter.Particles = pf
		}
		runner.Observers = append(runner.Observers, plotter)
	}

	if *grpcAddr != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = *grpcAddr
		publisher := visualiser.NewPublisher(vcfg)
		if err := publisher.Start(); err != nil {
			log.Fatalf("failed to start estimate stream: %v", err)
		}
		defer publisher.Stop()
		runner.Sinks = append(runner.Sinks, publisher)
	}

	if *listen != "" {
		mux := http.NewServeMux()
		src.Serial().AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Fatalf("failed to attach database routes: %v", err)
			}
		}
		attachTrajectoryRoute(mux, trajectory)

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, *listen, mux)
		}()
	}

	sum, runErr := runner.Run(ctx)
	log.Printf("processed %d scans, %d estimates in %v (%d slow cycles, %d sink errors)",
		sum.Scans, sum.Estimates, sum.Elapsed, sum.SlowCycles, sum.SinkErrors)
	st := src.Stats()
	log.Printf("scan adapter: %d frames, %d scans, %d non-scan, %d malformed, %d dropped rays",
		st.Frames, st.Scans, st.NotScans, st.Malformed, st.DroppedRays)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("run ended with error: %v", runErr)
	}

	if store != nil {
		if err := store.FinishRun(context.Background(), sum.Scans); err != nil {
			log.Printf("failed to finish run: %v", err)
		}
	}
	if *reportPath != "" {
		if err := trajectory.WriteHTML(fsys, *reportPath); err != nil {
			log.Printf("failed to write trajectory report: %v", err)
		} else {
			log.Printf("wrote trajectory report to %s", *reportPath)
		}
	}

	// A finished replay keeps the debug server up until interrupted.
	if *listen != "" && ctx.Err() == nil {
		log.Printf("scan stream finished; debug server still on %s, interrupt to exit", *listen)
		<-ctx.Done()
	}
	stop()
	src.Close()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// serveHTTP runs the debug server until ctx is done.
func serveHTTP(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		log.Printf("debug server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: laserloc [flags] (-log FILE | -serial DEV | -udp ADDR | -pcap FILE)\n")
		flag.PrintDefaults()
	}
}
