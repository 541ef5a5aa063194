/*
Package metrics provides Prometheus metrics collection and exposition for the
ensemble coordinator.

Metrics are grouped by the component they observe: the history table (row,
given, and returned counts), the worker registry (workers by activity state),
the coordinator loop (receive/allocation/dispatch phase durations, orders
sent, termination trips), the worker-link transports (errors, resend
requests), and the snapshot writer (write duration, snapshots written).

All metrics are registered at package init via prometheus.MustRegister and
exposed over HTTP via Handler(), mounted by the CLI's "metrics serve"
subcommand. The Timer helper wraps time.Since bookkeeping around a single
histogram observation, following the same pattern used for request and
scheduling latency elsewhere in this stack.
*/
package metrics
