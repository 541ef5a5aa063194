// Package coordinator implements the ensemble manager loop: the single
// goroutine that owns the history table and worker registry, receives
// results, calls the allocation policy, and dispatches work orders until a
// termination test trips.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ensemble/pkg/alloc"
	"github.com/cuemby/ensemble/pkg/events"
	"github.com/cuemby/ensemble/pkg/history"
	"github.com/cuemby/ensemble/pkg/log"
	"github.com/cuemby/ensemble/pkg/metrics"
	"github.com/cuemby/ensemble/pkg/registry"
	"github.com/cuemby/ensemble/pkg/tags"
	"github.com/cuemby/ensemble/pkg/termination"
	"github.com/cuemby/ensemble/pkg/worklink"
)

// LibEInfo carries the optional persistence/blocking metadata a worker may
// attach to a result.
type LibEInfo struct {
	Persistent bool
	Blocking   []int
}

// Result is the payload a worker sends back describing one completed (or
// failed) calculation.
type Result struct {
	CalcType   tags.Tag
	CalcStatus tags.Tag
	CalcOut    map[string]interface{}
	N          int // row count for a GEN result; ignored for SIM
	Info       *LibEInfo
	PersisInfo map[string]interface{}
}

// AbortError is raised when a worker sends tags.AbortEnsemble.
type AbortError struct {
	WorkerID int
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("coordinator: worker %d raised abort_ensemble", e.WorkerID)
}

// SnapshotWriter persists a history/persis_info snapshot. Implementations
// live in pkg/snapshot; it is modeled as an interface here so the
// coordinator never imports a storage concern directly.
type SnapshotWriter interface {
	WriteSim(h *history.History, persisInfo map[int]map[string]interface{}, simCount int) (string, error)
	WriteGen(h *history.History, persisInfo map[int]map[string]interface{}, index int) (string, error)
	WriteAbort(h *history.History, persisInfo map[int]map[string]interface{}, simCount int) (string, error)
}

// QueueUpdateFunc is the optional hook called once per loop iteration with
// the current history and persis_info; its return value replaces persisInfo.
type QueueUpdateFunc func(h *history.History, persisInfo map[int]map[string]interface{}) map[int]map[string]interface{}

// Config holds everything the coordinator needs to run one ensemble.
type Config struct {
	RunID                 string
	Links                 map[int]worklink.Link
	History               *history.History
	Registry              *registry.Registry
	Criteria              termination.Criteria
	Alloc                 alloc.Func
	SimSpecs              alloc.Specs
	GenSpecs              alloc.Specs
	SimSaveEveryK         int
	GenSaveEveryK         int
	Snapshot              SnapshotWriter
	SaveHAndPersisOnAbort bool
	QueueUpdate           QueueUpdateFunc
	Events                *events.Broker
	RecvTimeout           time.Duration
}

// Coordinator runs the manager loop described by SPEC_FULL.md §4.6-4.8. It is
// used from exactly one goroutine; History and Registry must not be touched
// from anywhere else while Run is executing.
type Coordinator struct {
	cfg        Config
	history    *history.History
	registry   *registry.Registry
	eval       *termination.Evaluator
	persisInfo map[int]map[string]interface{}
}

// New creates a Coordinator from cfg. The wallclock start time is recorded
// now, so callers should construct the Coordinator immediately before Run.
func New(cfg Config) *Coordinator {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return &Coordinator{
		cfg:        cfg,
		history:    cfg.History,
		registry:   cfg.Registry,
		eval:       termination.New(cfg.Criteria, time.Now()),
		persisInfo: make(map[int]map[string]interface{}),
	}
}

// Run executes the coordinator loop until a termination test trips or a
// fatal error occurs. It always performs final drain and shutdown before
// returning, per §4.8.
func (c *Coordinator) Run(ctx context.Context) (map[int]map[string]interface{}, tags.ExitFlag, error) {
	logger := log.WithRunID(c.cfg.RunID)
	logger.Info().Msg("ensemble run started")
	if c.cfg.Events != nil {
		c.cfg.Events.Publish(&events.Event{ID: uuid.NewString(), Type: events.EventRunStarted, Message: "run started"})
	}

	exitFlag, runErr := c.loop(ctx, &logger)

	drainErr := c.finalDrain(ctx, &logger)
	if runErr == nil {
		runErr = drainErr
	}

	c.broadcastFinish(ctx)

	if runErr != nil {
		c.handleAbort(&logger, runErr)
		if c.cfg.Events != nil {
			c.cfg.Events.Publish(&events.Event{ID: uuid.NewString(), Type: events.EventAbort, Message: runErr.Error()})
		}
		return c.persisInfo, exitFlag, runErr
	}

	logger.Info().Msg("ensemble run finished")
	if c.cfg.Events != nil {
		c.cfg.Events.Publish(&events.Event{ID: uuid.NewString(), Type: events.EventRunFinished, Message: "run finished"})
	}
	return c.persisInfo, exitFlag, nil
}

func (c *Coordinator) loop(ctx context.Context, logger *zerolog.Logger) (tags.ExitFlag, error) {
	for {
		if key, flag, err := c.eval.Test(c.history); err != nil {
			return tags.ExitException, err
		} else if key != termination.KeyNone {
			metrics.TerminationTripsTotal.WithLabelValues(string(key)).Inc()
			logger.Info().Msgf("termination key %q tripped after %s, sim_count=%d", key, c.eval.Elapsed(), c.history.SimCount())
			if c.cfg.Events != nil {
				c.cfg.Events.Publish(&events.Event{ID: uuid.NewString(), Type: events.EventTerminationTripped, Message: string(key)})
			}
			return flag, nil
		}

		if err := c.receivePhase(ctx, logger); err != nil {
			return tags.ExitException, err
		}

		c.maybeSnapshot(logger)

		if c.cfg.QueueUpdate != nil {
			c.persisInfo = c.cfg.QueueUpdate(c.history, c.persisInfo)
		}

		idle, _, _, _ := c.registry.CountByState()
		if idle == 0 {
			continue
		}

		if err := c.allocationPhase(ctx, logger); err != nil {
			return tags.ExitException, err
		}
	}
}

// receivePhase repeatedly polls every link with MailFlag and applies
// whatever has arrived, converging once a full sweep finds nothing new.
func (c *Coordinator) receivePhase(ctx context.Context, logger *zerolog.Logger) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReceivePhaseDuration)

	for {
		progressed := false
		for w, link := range c.cfg.Links {
			if !link.MailFlag() {
				continue
			}
			recvCtx, cancel := c.recvContext(ctx)
			msg, err := link.Recv(recvCtx)
			cancel()
			if err != nil {
				if rerr := c.handleRecvFailure(ctx, w, link, logger); rerr != nil {
					return rerr
				}
				continue
			}
			if err := c.applyMessage(w, msg, logger); err != nil {
				return err
			}
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

// recvContext derives a per-Recv deadline from Config.RecvTimeout, used to
// bound how long one worker's stall can hold up a receive-phase sweep.
func (c *Coordinator) recvContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RecvTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.RecvTimeout)
}

func (c *Coordinator) handleRecvFailure(ctx context.Context, w int, link worklink.Link, logger *zerolog.Logger) error {
	metrics.TransportErrorsTotal.WithLabelValues("recv", "error").Inc()
	metrics.ResendRequestsTotal.Inc()
	logger.Info().Msgf("recv failed from worker %d, requesting resend", w)

	if err := link.Send(ctx, worklink.Message{Tag: tags.ManSignalReqResend}); err != nil {
		return fmt.Errorf("coordinator: worker %d unreachable after recv failure: %w", w, err)
	}
	msg, err := link.Recv(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: worker %d failed resend: %w", w, err)
	}
	return c.applyMessage(w, msg, logger)
}

func (c *Coordinator) applyMessage(w int, msg worklink.Message, logger *zerolog.Logger) error {
	if msg.Tag == tags.AbortEnsemble {
		return &AbortError{WorkerID: w}
	}

	res, ok := msg.Payload.(Result)
	if !ok {
		return fmt.Errorf("coordinator: worker %d sent tag %s with no result payload", w, msg.Tag)
	}
	if !tags.IsCalcStatus(res.CalcStatus) {
		return fmt.Errorf("coordinator: worker %d sent unknown calc_status %s", w, res.CalcStatus)
	}

	if err := c.registry.ClearActive(w); err != nil {
		return err
	}

	if res.CalcStatus == tags.FinishedPersistentSim || res.CalcStatus == tags.FinishedPersistentGen {
		if err := c.registry.ClearPersistent(w); err != nil {
			return err
		}
	} else if res.CalcType == tags.EvalSim {
		rows, err := c.history.MarkReturned(w, res.CalcOut)
		if err != nil {
			return err
		}
		metrics.HistoryReturned.Set(float64(c.history.SimCount()))
		if c.cfg.Events != nil && len(rows) > 0 {
			c.cfg.Events.Publish(&events.Event{ID: uuid.NewString(), Type: events.EventWorkerReturned, Message: fmt.Sprintf("worker %d returned %d rows", w, len(rows))})
		}
	} else if res.CalcType == tags.EvalGen {
		if _, err := c.history.AppendGenerated(w, res.N, res.CalcOut); err != nil {
			return err
		}
		metrics.HistoryRows.Set(float64(c.history.Index()))
	}

	if res.Info != nil {
		if res.Info.Persistent {
			if err := c.registry.SetPersistent(w, res.CalcType); err != nil {
				return err
			}
			if c.cfg.Events != nil {
				c.cfg.Events.Publish(&events.Event{ID: uuid.NewString(), Type: events.EventWorkerPersistent, Message: fmt.Sprintf("worker %d persistent", w)})
			}
		}
		for _, bw := range res.Info.Blocking {
			if err := c.registry.SetBlocked(bw, false); err != nil {
				return err
			}
			if err := c.registry.ClearActive(bw); err != nil {
				return err
			}
		}
	}

	if res.PersisInfo != nil {
		c.persisInfo[w] = res.PersisInfo
	}

	return nil
}

func (c *Coordinator) maybeSnapshot(logger *zerolog.Logger) {
	if c.cfg.Snapshot == nil {
		return
	}
	// Counters can jump past a multiple of k within one receive phase, so the
	// snapshot is named after the largest multiple of k reached so far; the
	// writer skips names that already exist.
	if k := c.cfg.SimSaveEveryK; k > 0 {
		if n := k * (c.history.SimCount() / k); n > 0 {
			c.writeSnapshot(logger, "sim", func() (string, error) {
				return c.cfg.Snapshot.WriteSim(c.history, c.persisInfo, n)
			})
		}
	}
	if k := c.cfg.GenSaveEveryK; k > 0 {
		if n := k * (c.history.Index() / k); n > 0 {
			c.writeSnapshot(logger, "gen", func() (string, error) {
				return c.cfg.Snapshot.WriteGen(c.history, c.persisInfo, n)
			})
		}
	}
}

func (c *Coordinator) writeSnapshot(logger *zerolog.Logger, reason string, write func() (string, error)) {
	timer := metrics.NewTimer()
	path, err := write()
	timer.ObserveDuration(metrics.SnapshotWriteDuration)
	if err != nil {
		logger.Info().Msgf("snapshot write (%s) failed: %v", reason, err)
		return
	}
	metrics.SnapshotsWrittenTotal.WithLabelValues(reason).Inc()
	if c.cfg.Events != nil {
		c.cfg.Events.Publish(&events.Event{ID: uuid.NewString(), Type: events.EventSnapshotWritten, Message: path})
	}
}

// allocationPhase calls the allocation adapter and dispatches the orders it
// returns, rechecking termination before each send.
func (c *Coordinator) allocationPhase(ctx context.Context, logger *zerolog.Logger) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AllocationPhaseDuration)

	actx := alloc.Context{
		Registry:   c.registry,
		History:    c.history,
		SimSpecs:   c.cfg.SimSpecs,
		GenSpecs:   c.cfg.GenSpecs,
		PersisInfo: c.persisInfo,
	}
	orders, newPersisInfo, err := c.cfg.Alloc(actx)
	if err != nil {
		return fmt.Errorf("coordinator: allocation policy failed: %w", err)
	}
	if newPersisInfo != nil {
		c.persisInfo = newPersisInfo
	}
	if len(orders) == 0 {
		return nil
	}
	if err := alloc.Validate(orders, c.registry, c.history); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	workers := make([]int, 0, len(orders))
	for w := range orders {
		workers = append(workers, w)
	}
	sortInts(workers)

	for _, w := range workers {
		if _, flag, terr := c.eval.Test(c.history); terr != nil {
			return terr
		} else if flag != tags.ExitClean {
			logger.Info().Msg("termination tripped mid-dispatch, remaining orders withheld")
			return nil
		}
		if err := c.dispatch(ctx, w, orders[w]); err != nil {
			return err
		}
	}
	return nil
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// dispatch implements SendWorkOrder + UpdateStateOnAlloc from §4.7.
func (c *Coordinator) dispatch(ctx context.Context, w int, order *alloc.WorkOrder) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchDuration)

	link, ok := c.cfg.Links[w]
	if !ok {
		return fmt.Errorf("coordinator: no link for worker %d", w)
	}

	if err := link.Send(ctx, worklink.Message{Tag: order.Tag, Payload: order}); err != nil {
		metrics.TransportErrorsTotal.WithLabelValues("send", "error").Inc()
		return fmt.Errorf("coordinator: send order to worker %d: %w", w, err)
	}
	if len(order.Rows) > 0 {
		data, err := c.history.Slice(order.Fields, order.Rows)
		if err != nil {
			return err
		}
		if err := link.Send(ctx, worklink.Message{Tag: tags.Unset, Payload: data}); err != nil {
			metrics.TransportErrorsTotal.WithLabelValues("send", "error").Inc()
			return fmt.Errorf("coordinator: send data slice to worker %d: %w", w, err)
		}
	}

	if err := c.registry.SetActive(w, order.Tag); err != nil {
		return err
	}
	if order.Persistent {
		if err := c.registry.SetPersistent(w, order.Tag); err != nil {
			return err
		}
	}
	for _, bw := range order.Blocking {
		if err := c.registry.SetBlocked(bw, true); err != nil {
			return err
		}
		if err := c.registry.SetActive(bw, order.Tag); err != nil {
			return err
		}
	}
	if order.Tag == tags.EvalSim {
		if err := c.history.MarkGiven(order.Rows, w, time.Now()); err != nil {
			return err
		}
		metrics.HistoryGiven.Set(float64(c.history.GivenCount()))
	}

	metrics.OrdersSentTotal.WithLabelValues(order.Tag.String()).Inc()
	if c.cfg.Events != nil {
		c.cfg.Events.Publish(&events.Event{ID: uuid.NewString(), Type: events.EventWorkerDispatched, Message: fmt.Sprintf("worker %d dispatched %s", w, order.Tag)})
	}
	idle, busySim, busyGen, persistentWaiting := c.registry.CountByState()
	metrics.WorkersActive.WithLabelValues("idle").Set(float64(idle))
	metrics.WorkersActive.WithLabelValues("sim").Set(float64(busySim))
	metrics.WorkersActive.WithLabelValues("gen").Set(float64(busyGen))
	metrics.WorkersActive.WithLabelValues("persistent_waiting").Set(float64(persistentWaiting))
	return nil
}

// finalDrain repeatedly runs the receive phase until every worker is idle or
// a wallclock timeout is observed, per §4.8.
func (c *Coordinator) finalDrain(ctx context.Context, logger *zerolog.Logger) error {
	for c.registry.AnyActive() {
		if _, flag, _ := c.eval.Test(c.history); flag == tags.ExitWallclockTimeout {
			logger.Info().Msg("final drain abandoned on wallclock timeout")
			return nil
		}
		if err := c.receivePhase(ctx, logger); err != nil {
			return err
		}
		c.maybeSnapshot(logger)
	}
	return nil
}

func (c *Coordinator) broadcastFinish(ctx context.Context) {
	for _, link := range c.cfg.Links {
		_ = link.Send(ctx, worklink.Message{Tag: tags.Stop, Payload: tags.ManSignalFinish})
	}
}

func (c *Coordinator) handleAbort(logger *zerolog.Logger, err error) {
	logger.Info().Msgf("ensemble run aborted: %v", err)
	if !c.cfg.SaveHAndPersisOnAbort || c.cfg.Snapshot == nil {
		return
	}
	if _, werr := c.cfg.Snapshot.WriteAbort(c.history, c.persisInfo, c.history.SimCount()); werr != nil {
		logger.Info().Msgf("abort snapshot write failed: %v", werr)
	}
}
