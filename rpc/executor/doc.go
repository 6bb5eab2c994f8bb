// Package executor defines the boundary between the dispatcher and whatever
// actually drives the browser. IActionExecutor takes an action name and its
// params and returns a JSON serializable result or an error whose text is
// reported to the caller unchanged.
//
// Poll implements the polling wait used by actions like waitFor. Its timeout
// (default 5000 ms, interval 100 ms) is independent of the router deadline and
// fails with "Timeout waiting for: <what>".
//
// The cdp subpackage provides the Chrome DevTools Protocol implementation.
package executor
