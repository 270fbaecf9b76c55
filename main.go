// meshlevel maps the height variation of a work surface by adaptively
// probing it over a GRBL-class controller, and rewrites motion programs so
// absolute Z moves are compensated for the measured variation.
//
// Usage:
//
//	meshlevel [flags]                    serve the HTTP API (default)
//	meshlevel [flags] probe              run a probing pass and save the mesh
//	meshlevel [flags] compensate -in f   rewrite a program against the mesh
//	meshlevel [flags] bounds <file>      print a program's bounding box
//	meshlevel [flags] report             render the mesh as an HTML heatmap
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/siganberg/meshlevel/internal/config"
	"github.com/siganberg/meshlevel/internal/logging"
	"github.com/siganberg/meshlevel/internal/machine"
)

var (
	configPath = flag.String("config", "meshlevel.json", "Path to the settings file")
	devMode    = flag.Bool("dev", false, "Use a simulated machine instead of a serial port")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

// openMachine connects to the configured controller, or to a flat-surface
// simulator in dev mode.
func openMachine(cfg *config.Settings, logger *zap.SugaredLogger) (machine.Machine, func() error, error) {
	if *devMode {
		sim := machine.NewSimulator(nil, machine.Position{Z: 5})
		return sim, func() error { return nil }, nil
	}
	g, err := machine.Open(cfg.GetSerialPort(), cfg.GetBaudRate(), logger)
	if err != nil {
		return nil, nil, err
	}
	return g, g.Close, nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	logger := logging.New(logging.Options{
		Debug: *debug || cfg.GetDebug(),
		File:  cfg.GetLogFile(),
	})
	defer logger.Sync()

	args := flag.Args()
	command := "serve"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "serve":
		err = runServe(cfg, logger)
	case "probe":
		err = cmdProbe(cfg, logger, args)
	case "compensate":
		err = cmdCompensate(cfg, logger, args)
	case "bounds":
		err = cmdBounds(args)
	case "report":
		err = cmdReport(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatalf("%s failed: %v", command, err)
	}
}
