package cliutil

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"

	"github.com/Paintersrp/sigrt/internal/procdir"
)

// WriteProcessTable prints descriptors in ps-like columns. Exited entries
// are skipped unless all is set.
func WriteProcessTable(out io.Writer, ds []procdir.Descriptor, now time.Time, all bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tPPID\tPGID\tSID\tTTY\tHOSTPID\tSTATE\tAGE\tCOMMAND")
	for _, d := range ds {
		if d.Exited() && !all {
			continue
		}
		state := string(d.State)
		if d.Orphaned {
			state += "+orphan"
		}
		command := RedactSecrets(d.Command)
		if command == "" {
			command = "-"
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\t%d\t%s\t%s\t%s\n",
			d.Pid, d.PPid, d.Pgid, d.Sid, formatTTY(d.Ctty), d.HostPid, state, formatAge(d.StartedAt, now), command)
	}
	return w.Flush()
}

func formatTTY(ctty int) string {
	if ctty == procdir.NoTTY || ctty == 0 {
		return "?"
	}
	return strconv.Itoa(ctty)
}

func formatAge(started, now time.Time) string {
	if started.IsZero() {
		return "-"
	}
	age := now.Sub(started)
	if age < 0 {
		age = 0
	}
	return units.HumanDuration(age)
}
