// qid - the messaging node daemon: hosts a service directory, listens
// for sessions, and optionally relays as a gateway.
package main

import (
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/fabricejumel/libqi/config"
	"github.com/fabricejumel/libqi/executor"
	"github.com/fabricejumel/libqi/session"
)

var log = commonlog.GetLogger("qi.qid")

func main() {
	configDir := flag.String("c", "", "Directory containing node.toml")
	listen := flag.String("listen", "", "Listen URL (overrides config)")
	directory := flag.String("sd", "", "Service directory URL (overrides config)")
	mode := flag.String("mode", "", "Topology mode: direct, sd, gateway, ssl")
	metricsAddr := flag.String("metrics", "", "Prometheus metrics address (overrides config)")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides config)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: qid [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a messaging node. Without a config file, hosts a service\n")
		fmt.Fprintf(os.Stderr, "directory on tcp://127.0.0.1:9559.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  qid --mode sd --listen tcp://0.0.0.0:9559\n")
		fmt.Fprintf(os.Stderr, "  qid --mode gateway --listen tcp://0.0.0.0:9560 --sd tcp://10.0.0.2:9559\n")
		fmt.Fprintf(os.Stderr, "  qid -c /etc/qid --metrics 127.0.0.1:9090\n")
	}
	flag.Parse()

	cfg := config.Default()
	if *configDir != "" {
		loaded, err := config.Load(*configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *directory != "" {
		cfg.Directory = *directory
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}
	if *verbosity >= 0 {
		cfg.Verbosity = *verbosity
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	commonlog.Configure(cfg.Verbosity, nil)

	var tlsCfg *tls.Config
	if cfg.SSL.Enabled || cfg.Mode == "ssl" {
		var err error
		tlsCfg, err = loadTLS(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading certificates: %v\n", err)
			os.Exit(1)
		}
	}

	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen)
	}

	switch cfg.Mode {
	case "gateway":
		runGateway(cfg, tlsCfg)
	default:
		runNode(cfg, tlsCfg)
	}
}

func runNode(cfg *config.Node, tlsCfg *tls.Config) {
	exec := executor.New(0)
	defer exec.Stop()

	opts := []session.Option{session.WithIPv6(cfg.Network.IPv6)}
	if tlsCfg != nil {
		opts = append(opts, session.WithTLSConfig(tlsCfg))
	}
	sess := session.New(exec, opts...)
	defer sess.Close()

	listen := cfg.Listen
	if cfg.Mode == "ssl" {
		listen = sslURL(listen)
	}
	if err := sess.Listen(listen); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	sess.HostDirectory()

	fmt.Printf("Service directory listening on %s\n", sess.Endpoints()[0])
	log.Infof("node up in %s mode", cfg.Mode)

	waitForSignal()
	log.Info("shutting down")
}

func runGateway(cfg *config.Node, tlsCfg *tls.Config) {
	gw := session.NewGateway(cfg.Directory)
	if err := gw.Listen(cfg.Listen, tlsCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer gw.Close()

	fmt.Printf("Gateway on %s relaying to %s\n", cfg.Listen, cfg.Directory)
	waitForSignal()
}

// sslURL rewrites a tcp listen URL to tcps for ssl mode.
func sslURL(raw string) string {
	if len(raw) > 6 && raw[:6] == "tcp://" {
		return "tcps://" + raw[6:]
	}
	return raw
}

func loadTLS(cfg *config.Node) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertPath(cfg.SSL.CertFile), cfg.CertPath(cfg.SSL.KeyFile))
	if err != nil {
		return nil, err
	}
	out := &tls.Config{Certificates: []tls.Certificate{cert}}
	if cfg.SSL.CAFile != "" {
		pem, err := os.ReadFile(cfg.CertPath(cfg.SSL.CAFile))
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.SSL.CAFile)
		}
		out.RootCAs = pool
		out.ClientCAs = pool
	}
	return out, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(session.Registry, promhttp.HandlerOpts{}))
	log.Infof("metrics on http://%s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server: %v", err)
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
