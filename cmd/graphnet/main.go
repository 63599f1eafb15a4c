package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/graphnet/pkg/activation"
	"github.com/sanonone/graphnet/pkg/engine"
	"github.com/sanonone/graphnet/pkg/filter"
	"github.com/sanonone/graphnet/pkg/graph"
	"github.com/sanonone/graphnet/pkg/train"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML training configuration (defaults are used when empty)")
	metricsAddr := flag.String("metrics-addr", "", "Address for the Prometheus /metrics endpoint (e.g. :9095), disabled when empty")
	verbose := flag.Bool("v", false, "Log per-epoch progress")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := engine.LoadConfig(*configPath)
	if err != nil {
		logger.Error("[Main] invalid configuration", "error", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("[Main] metrics server stopped", "error", err)
			}
		}()
		logger.Info("[Main] serving metrics", "addr", *metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	net, in, out, err := buildDemo(cfg, logger)
	if err != nil {
		logger.Error("[Main] could not build network", "error", err)
		os.Exit(1)
	}

	session, err := engine.NewSession(net, cfg, logger)
	if err != nil {
		logger.Error("[Main] could not create session", "error", err)
		os.Exit(1)
	}
	registry := engine.NewRegistry()
	registry.Add(session)

	episodes := doublingEpisodes(in.ID(), out.ID())
	loss, err := session.Fit(ctx, episodes)
	if err != nil {
		logger.Error("[Main] training failed", "session", session.ID, "error", err)
		os.Exit(1)
	}

	for _, x := range []float64{0.25, 0.5, 1} {
		preds, err := session.Predict(ctx, []map[int]float64{{in.ID(): x}, nil, nil})
		if err != nil {
			logger.Error("[Main] prediction failed", "error", err)
			os.Exit(1)
		}
		logger.Info("[Main] prediction", "input", x, "target", 2*x, "output", preds[2][out.ID()])
	}
	for _, p := range registry.List() {
		logger.Info("[Main] session", "id", p.ID, "status", p.Status, "epochs", p.Epoch, "loss", p.Loss)
	}
	logger.Info("[Main] done", "loss", loss, "parameters", session.Linearizer().Size())
}

// buildDemo wires input -> hidden -> output with a stochastic gate on the
// first hop and a bell-shaped gate on a direct input -> output shortcut.
func buildDemo(cfg engine.Config, logger *slog.Logger) (*graph.Network, *graph.Node, *graph.Node, error) {
	net := graph.NewNetwork(cfg.NetworkOptions(logger))
	in := net.AddInput()
	hidden := net.AddHidden(activation.Tanh{})
	out := net.AddOutput(activation.Linear{})

	gate := filter.NewBernoulli(0.9)
	if _, err := net.Connect(in, hidden, gate, filter.NewBernoulliAdjuster(gate, cfg.FilterRate)); err != nil {
		return nil, nil, nil, err
	}
	if _, err := net.Connect(hidden, out, filter.AlwaysFire{}, nil); err != nil {
		return nil, nil, nil, err
	}
	bell := filter.NewNormal(0.5, 1)
	if _, err := net.Connect(in, out, bell, filter.NewNormalAdjuster(bell, cfg.FilterRate)); err != nil {
		return nil, nil, nil, err
	}
	return net, in, out, nil
}

// doublingEpisodes asks the output to report twice the input two steps later.
func doublingEpisodes(in, out int) []train.Episode {
	var eps []train.Episode
	for _, x := range []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1} {
		eps = append(eps, train.Episode{
			{Inputs: map[int]float64{in: x}},
			{},
			{Targets: map[int]float64{out: 2 * x}},
		})
	}
	return eps
}
