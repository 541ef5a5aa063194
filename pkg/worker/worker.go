// Package worker implements the worker-side driver loop: it receives work
// orders over a worklink.Link, runs the configured generator or simulator
// routine, and reports the result back to the coordinator.
package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/ensemble/pkg/alloc"
	"github.com/cuemby/ensemble/pkg/coordinator"
	"github.com/cuemby/ensemble/pkg/log"
	"github.com/cuemby/ensemble/pkg/tags"
	"github.com/cuemby/ensemble/pkg/userfunc"
	"github.com/cuemby/ensemble/pkg/worklink"
)

// Config holds everything one worker needs to run.
type Config struct {
	ID        int
	Link      worklink.Link
	Gen       userfunc.GenFunc
	Sim       userfunc.SimFunc
	GenParams map[string]interface{}
	SimParams map[string]interface{}
}

// Worker drives one worklink.Link, alternating between receiving a work
// order and reporting its result, until the coordinator sends Stop.
type Worker struct {
	cfg        Config
	persisInfo map[string]interface{}
}

// New creates a Worker from cfg.
func New(cfg Config) *Worker {
	return &Worker{cfg: cfg}
}

// Run blocks, servicing work orders until the coordinator signals Stop or
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.WithWorkerID(w.cfg.ID)

	for {
		msg, err := w.cfg.Link.Recv(ctx)
		if err != nil {
			return fmt.Errorf("worker %d: recv: %w", w.cfg.ID, err)
		}
		if msg.Tag == tags.Stop {
			logger.Info().Msg("worker received finish signal")
			return nil
		}

		order, ok := msg.Payload.(*alloc.WorkOrder)
		if !ok {
			return fmt.Errorf("worker %d: expected a work order, got tag %s", w.cfg.ID, msg.Tag)
		}

		var data map[string]interface{}
		if len(order.Rows) > 0 {
			dmsg, err := w.cfg.Link.Recv(ctx)
			if err != nil {
				return fmt.Errorf("worker %d: recv data slice: %w", w.cfg.ID, err)
			}
			data, _ = dmsg.Payload.(map[string]interface{})
		}

		result := w.execute(order, data, &logger)
		if err := w.cfg.Link.Send(ctx, worklink.Message{Tag: order.Tag, Payload: result}); err != nil {
			return fmt.Errorf("worker %d: send result: %w", w.cfg.ID, err)
		}
	}
}

func (w *Worker) execute(order *alloc.WorkOrder, data map[string]interface{}, logger *zerolog.Logger) coordinator.Result {
	switch order.Tag {
	case tags.EvalSim:
		out, err := w.cfg.Sim(userfunc.SimInput{In: data, Params: w.cfg.SimParams})
		if err != nil {
			logger.Info().Msgf("sim calc failed: %v", err)
			return coordinator.Result{CalcType: tags.EvalSim, CalcStatus: tags.CalcException}
		}
		status := tags.WorkerDone
		if out.Done {
			status = tags.FinishedPersistentSim
		}
		return coordinator.Result{CalcType: tags.EvalSim, CalcStatus: status, CalcOut: out.Out}

	case tags.EvalGen:
		out, err := w.cfg.Gen(userfunc.GenInput{In: data, Params: w.cfg.GenParams, PersisInfo: w.persisInfo})
		if err != nil {
			logger.Info().Msgf("gen calc failed: %v", err)
			return coordinator.Result{CalcType: tags.EvalGen, CalcStatus: tags.CalcException}
		}
		if out.PersisInfo != nil {
			w.persisInfo = out.PersisInfo
		}
		status := tags.WorkerDone
		if out.Done {
			status = tags.FinishedPersistentGen
		}
		return coordinator.Result{
			CalcType:   tags.EvalGen,
			CalcStatus: status,
			CalcOut:    out.Out,
			N:          out.N,
			Info:       &coordinator.LibEInfo{Persistent: order.Persistent},
			PersisInfo: w.persisInfo,
		}

	default:
		return coordinator.Result{CalcType: order.Tag, CalcStatus: tags.CalcException}
	}
}
