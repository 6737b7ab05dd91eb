// Package daemonrun assembles and runs the vidconv daemon process: logger,
// pid file, task store, storage and encode backends, workflow driver, and
// HTTP API. Both the vidconvd binary and `vidconv run` call Run.
package daemonrun
