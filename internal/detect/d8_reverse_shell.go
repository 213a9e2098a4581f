package detect

import (
	"fmt"

	"github.com/qguardian/qguardian/internal/detect/state"
)

// ReverseShell (D8) correlates an outbound CONNECT with a subsequent DUP2
// that redirects a socket fd onto stdin/stdout/stderr — the canonical
// "bind the remote socket to a shell's standard streams" shape. Grounded on
// Wrapper/analyzers/ReverseShell.py, which persists a per-pid "connected"
// flag across invocations and clears it once the pairing fires.
type ReverseShell struct {
	connected *state.PIDMap // pid -> bool
}

func NewReverseShell() *ReverseShell {
	return &ReverseShell{connected: state.NewPIDMap()}
}

func (d *ReverseShell) ID() string { return "ReverseShell" }

func (d *ReverseShell) Observe(ev Event) []Verdict {
	switch ev.Kind {
	case "CONNECT":
		d.connected.Set(ev.PID, true)
		return nil
	case "DUP2":
		v, ok := d.connected.Get(ev.PID)
		if !ok || v != true {
			return nil
		}
		newfd := ev.Int("newfd")
		if newfd != 0 && newfd != 1 && newfd != 2 {
			return nil
		}
		oldfd := ev.Int("oldfd")
		d.connected.Delete(ev.PID)
		return []Verdict{{
			Level:       LevelCritical,
			CVSSVector:  "CVSS:3.1/AV:N/AC:L/PR:L/UI:N/S:C/C:H/I:H/A:H",
			Description: "Reverse Shell: outbound connection redirected onto standard I/O",
			PID:         ev.PID,
			Evidence:    fmt.Sprintf("dup2(oldfd=%d, newfd=%d) after CONNECT", oldfd, newfd),
			Analyzer:    d.ID(),
		}}
	}
	return nil
}

func (d *ReverseShell) Reset() {
	d.connected.Reset()
}
