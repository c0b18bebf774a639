// Package dispatch starts transfers out-of-band and implements the
// administrative retry and delete actions.
//
// A Dispatcher records the pending row before a worker is launched, so a
// transfer is visible in the status table even if the worker never starts.
// Workers are launched through a Spawner: in-process goroutines by default,
// or a child process running "relay worker <url> <key>".
package dispatch
