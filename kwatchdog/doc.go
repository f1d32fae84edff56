// Package kwatchdog polls long-running subsystems for liveness.
// A subsystem opts in through [*Watchdog.Monitor], supplying the interval
// and jitter for the poll and a timeout for its response.
// A subsystem that misses its response window is assumed wedged,
// and the watchdog cancels the root context to bring the node down
// rather than let it run half-alive.
package kwatchdog
