// Package profiler measures where the time of a request goes. It issues a
// number of profiled calls of one action strictly one after another (one in
// flight), collects the per hop timing every response carries (clientMs,
// hostMs, agentMs, executorMs and whatever else a hop adds) and reduces each
// series to avg, p50, p95 and max.
//
// Percentiles use the nearest rank method on the ascending series. A series
// without samples is reported as null.
package profiler
