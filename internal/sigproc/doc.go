// Package sigproc delivers POSIX signals to runtime processes.
//
// Every started Process owns a delivery goroutine. Senders bump a per-signal
// counter in one of three tables and wake the goroutine: the main table and
// the thread table serve synchronous sends made by the process itself, the
// public table serves fire-and-forget sends and signals posted by peers
// through the rendezvous. The delivery goroutine drains the woken table,
// defers what the mask blocks back into the public table, applies
// dispositions, and acknowledges synchronous senders.
package sigproc
