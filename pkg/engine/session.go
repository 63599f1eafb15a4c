// Package engine ties a network, its linearizations, a trainer and an
// optimizer into a training session.
//
// Basic usage:
//
//	cfg := engine.DefaultConfig()
//	net := graph.NewNetwork(cfg.NetworkOptions(nil))
//	// ... add nodes and edges ...
//	s, err := engine.NewSession(net, cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	loss, err := s.Fit(ctx, episodes)
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/sanonone/graphnet/pkg/graph"
	"github.com/sanonone/graphnet/pkg/linearize"
	"github.com/sanonone/graphnet/pkg/metrics"
	"github.com/sanonone/graphnet/pkg/optim"
	"github.com/sanonone/graphnet/pkg/train"
)

// Status defines the possible states of a session.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Progress is a point-in-time view of a session.
type Progress struct {
	ID     string  `json:"id"`
	Status Status  `json:"status"`
	Epoch  int     `json:"epoch"`
	Loss   float64 `json:"loss"`
	Error  string  `json:"error,omitempty"`
}

// Session trains one network. It is not safe for concurrent training calls;
// Progress may be read from any goroutine.
type Session struct {
	ID string

	net    *graph.Network
	cfg    Config
	logger *slog.Logger

	lin     *linearize.Linearizer
	filters *linearize.FilterLinearizer
	trainer *train.Trainer
	opt     optim.Optimizer

	mu       sync.RWMutex
	progress Progress
}

// NewSession builds the linearizations of net's current topology and the
// configured optimizer.
func NewSession(net *graph.Network, cfg Config, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opt, err := cfg.NewOptimizer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		ID:     uuid.New().String(),
		net:    net,
		cfg:    cfg,
		logger: logger,
		opt:    opt,
	}
	s.progress = Progress{ID: s.ID, Status: StatusCreated}
	s.rebuild()
	return s, nil
}

// Network returns the trained network.
func (s *Session) Network() *graph.Network { return s.net }

// Linearizer returns the current node-parameter linearization.
func (s *Session) Linearizer() *linearize.Linearizer { return s.lin }

// Progress returns the session's current status.
func (s *Session) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *Session) setProgress(fn func(p *Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.progress)
}

func (s *Session) rebuild() {
	s.lin = linearize.New(s.net)
	s.filters = linearize.NewFilters(s.net)
	s.trainer = train.New(s.net, s.lin, s.filters, s.cfg.TrainOptions(s.logger))
}

// ensureFresh rebuilds the linearizations when the topology changed.
func (s *Session) ensureFresh() {
	if !s.lin.Stale() && !s.filters.Stale() {
		return
	}
	old := s.lin.Version()
	s.rebuild()
	s.opt.Reset()
	s.logger.Warn("[Session] topology changed, linearizer rebuilt",
		"session", s.ID, "from_version", old, "to_version", s.lin.Version(), "parameters", s.lin.Size())
}

// TrainEpisode replays ep, computes its gradient, lets the optimizer turn it
// into a delta and applies it, then applies the filter adjustments.
func (s *Session) TrainEpisode(ctx context.Context, ep train.Episode) (train.Result, error) {
	s.ensureFresh()
	res, err := s.trainer.Run(ctx, ep)
	if err != nil {
		return res, err
	}
	metrics.EpisodeLoss.WithLabelValues(s.ID).Set(res.Loss)
	metrics.GradientNorm.WithLabelValues(s.ID).Set(floats.Norm(res.Gradient, 2))

	if res.ContributingSteps > 0 {
		delta, err := s.opt.Step(res.Gradient, s.lin)
		if err != nil {
			return res, fmt.Errorf("optimizer step: %w", err)
		}
		if err := s.lin.Apply(delta); err != nil {
			return res, fmt.Errorf("apply parameter delta: %w", err)
		}
	}
	if err := s.filters.Apply(res.FilterDelta); err != nil {
		return res, fmt.Errorf("apply filter delta: %w", err)
	}
	return res, nil
}

// Fit trains every episode once per epoch and returns the mean loss of the
// last epoch.
func (s *Session) Fit(ctx context.Context, episodes []train.Episode) (float64, error) {
	s.setProgress(func(p *Progress) { p.Status = StatusRunning })
	var mean float64
	for epoch := 0; epoch < s.cfg.Epochs; epoch++ {
		var total float64
		for i, ep := range episodes {
			if err := ctx.Err(); err != nil {
				return mean, s.fail(err)
			}
			res, err := s.TrainEpisode(ctx, ep)
			if err != nil {
				return mean, s.fail(fmt.Errorf("epoch %d episode %d: %w", epoch, i, err))
			}
			total += res.Loss
		}
		if len(episodes) > 0 {
			mean = total / float64(len(episodes))
		}
		s.setProgress(func(p *Progress) {
			p.Epoch = epoch + 1
			p.Loss = mean
		})
		s.logger.Debug("[Session] epoch finished", "session", s.ID, "epoch", epoch+1, "loss", mean)
	}
	s.setProgress(func(p *Progress) { p.Status = StatusCompleted })
	s.logger.Info("[Session] training finished", "session", s.ID, "epochs", s.cfg.Epochs, "loss", mean)
	return mean, nil
}

func (s *Session) fail(err error) error {
	s.setProgress(func(p *Progress) {
		p.Status = StatusFailed
		p.Error = err.Error()
	})
	s.logger.Error("[Session] training failed", "session", s.ID, "error", err)
	return err
}

// Predict resets the network, runs one step per input frame and returns, per
// step, the expected activated value of every output node that had outcomes.
func (s *Session) Predict(ctx context.Context, frames []map[int]float64) ([]map[int]float64, error) {
	s.net.Reset()
	outputs := s.net.Outputs()
	preds := make([]map[int]float64, 0, len(frames))
	for i, in := range frames {
		if err := s.net.Step(ctx, in); err != nil {
			return nil, fmt.Errorf("predict frame %d: %w", i, err)
		}
		snap, _ := s.net.History().Latest()
		step := make(map[int]float64)
		for _, o := range outputs {
			if v, _, ok := snap.Expected(o.ID()); ok {
				step[o.ID()] = v
			}
		}
		preds = append(preds, step)
	}
	return preds, nil
}
