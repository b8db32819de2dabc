// Package subproc tracks the children of a runtime process: it turns host
// termination notifications into zombies, matches zombies and stopped
// children against blocked wait calls, and accounts child resource usage.
//
// A Registry owns one reaper goroutine, started with the first child. The
// live table, the zombie table and the wait queue share the registry lock;
// the Parent is never called with that lock held.
package subproc
