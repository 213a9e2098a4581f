package detect

// CommandInjection (D2) fires on EXEC of a shell interpreter, grounded on
// Wrapper/analyzers/CodeInjection.py. Stateless: no cross-event memory.
type CommandInjection struct{}

func NewCommandInjection() *CommandInjection { return &CommandInjection{} }

func (d *CommandInjection) ID() string { return "CommandInjection" }

var shellSet = map[string]bool{
	"/bin/sh": true, "/bin/bash": true, "/bin/csh": true,
	"/usr/bin/sh": true, "/usr/bin/bash": true,
	"sh": true, "bash": true,
}

func (d *CommandInjection) Observe(ev Event) []Verdict {
	if ev.Kind != "EXEC" {
		return nil
	}
	filename := ev.Str("filename")
	if !shellSet[filename] {
		return nil
	}
	return []Verdict{{
		Level:       LevelHigh,
		CVSSVector:  "CVSS:3.1/AV:L/AC:L/PR:L/UI:N/S:C/C:H/I:H/A:H",
		Description: "Command Injection: exec of shell interpreter " + filename,
		PID:         ev.PID,
		Evidence:    filename,
		Analyzer:    d.ID(),
	}}
}

func (d *CommandInjection) Reset() {}
