// Package sinks holds the progress.Sink implementations a pipeline hub can
// fan events out to: a zap sink for operator-readable stage lines, a
// Prometheus sink feeding the run gauges, and a store sink that batches
// events into the run-history tables served by the API.
package sinks
