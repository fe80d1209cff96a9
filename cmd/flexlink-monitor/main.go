// flexlink-monitor connects to a radio, mirrors its object graph, and
// republishes what it sees: entity lifecycle on the log, engine counters
// on a Prometheus endpoint, and live panadapter frames on a websocket.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	flexlink "github.com/cwsl/flexlink"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	host := flag.String("host", "", "Radio host (overrides config)")
	port := flag.Int("port", 0, "Radio control port (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	trace := flag.Bool("trace", false, "Trace every control-plane line")
	flag.Parse()

	config, err := flexlink.LoadConfig(*configPath)
	if err != nil {
		// a host flag is enough to run without a config file
		if *host == "" {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		config = &flexlink.Config{}
	}
	if *host != "" {
		config.Radio.Host = *host
	}
	if *port != 0 {
		config.Radio.Port = *port
	}
	if config.Radio.Port == 0 {
		config.Radio.Port = 4992
	}
	if *debug || config.Debug {
		flexlink.DebugMode = true
		log.Println("Debug mode enabled")
	}

	var hub *spectrumHub
	if config.Spectrum.Enabled {
		hub = newSpectrumHub()
		go hub.serve(config.Spectrum.Listen)
	}

	events := flexlink.EntityEvents{
		Added: func(e flexlink.Entity) {
			log.Printf("Entity added: %s %#x", e.Kind(), e.ID())
			if pan, ok := e.(*flexlink.Panadapter); ok && hub != nil {
				pan.SetFrameHandler(hub.broadcastFrame)
				pan.SetSize(config.Spectrum.Width, config.Spectrum.Height)
			}
		},
		Removed: func(e flexlink.Entity) {
			log.Printf("Entity removed: %s %#x", e.Kind(), e.ID())
		},
	}

	opts := []flexlink.SessionOption{
		flexlink.WithClientProgram(config.Client.Program),
		flexlink.WithStation(config.Client.Station),
		flexlink.WithEvents(events),
	}
	if *trace {
		opts = append(opts, flexlink.WithTrace(func(dir, line string) {
			log.Printf("%s %s", dir, line)
		}))
	}
	if config.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		opts = append(opts, flexlink.WithMetrics(flexlink.NewMetrics(registry)))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			log.Printf("Prometheus metrics on %s/metrics", config.Metrics.Listen)
			if err := http.ListenAndServe(config.Metrics.Listen, mux); err != nil {
				log.Printf("Warning: metrics server failed: %v", err)
			}
		}()
	}

	session := flexlink.NewSession(opts...)
	session.Disconnected = func(err error) {
		if err != nil {
			log.Printf("Disconnected: %v", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", config.Radio.Host, config.Radio.Port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	udp, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		log.Fatalf("Failed to bind data socket: %v", err)
	}

	if err := session.Connect(conn, udp); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	session.Subscribe()

	if config.Spectrum.Enabled {
		session.RequestPanadapter(config.Spectrum.Width, config.Spectrum.Height,
			func(code uint32, message string) {
				if code != 0 {
					log.Printf("Warning: panafall create rejected (0x%X): %s", code, message)
				}
			})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Println("Shutting down")
		session.Close()
	case <-session.Done():
	}
}
