// Package dispatcher implements the action dispatcher of the agent. It maps
// the action name of a request to its handler:
//
//   - ping answers {pong, time} without touching the browser
//   - navigate, getActiveTab, screenshot, click, type, getContent, waitFor and
//     fillForm go to the executor
//   - batch runs a list of {action, params} commands strictly one after another
//     through the same entry point, optionally stopping at the first failure
//
// Any other name fails with "Unknown action: <name>". Errors of the executor are
// passed on as their message.
//
// Profiled requests get agentMs (time spent in the dispatcher) and executorMs
// (time spent in the executor). Batch children are profiled only when the child
// itself asks for it. Per action timers are kept in a go-metrics registry.
package dispatcher
