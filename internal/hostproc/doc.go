// Package hostproc runs host operating-system commands as children of a
// runtime process.
//
// Each command is started in its own host process group so that stop
// requests reach every member on Linux. On other Unix hosts signals reach the
// direct child and any grandchildren that stayed in its group. Host exit
// statuses are translated into runtime wait statuses: a host signal is
// mapped to the runtime signal of the same name.
package hostproc
