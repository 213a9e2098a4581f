package detect

// Reconnaissance (D10) fires on READLINKAT of a short list of procfs links
// used to self-locate a running binary or inspect its memory map, grounded
// on Wrapper/analyzers/Reconnaissance.py. Stateless.
type Reconnaissance struct{}

func NewReconnaissance() *Reconnaissance { return &Reconnaissance{} }

func (d *Reconnaissance) ID() string { return "Reconnaissance" }

var reconPaths = map[string]bool{
	"/proc/self/exe":  true,
	"/proc/self/cwd":  true,
	"/proc/self/maps": true,
}

func (d *Reconnaissance) Observe(ev Event) []Verdict {
	if ev.Kind != "READLINKAT" {
		return nil
	}
	path := ev.Str("path")
	if !reconPaths[path] {
		return nil
	}
	return []Verdict{{
		Level:       LevelMedium,
		CVSSVector:  "CVSS:3.1/AV:L/AC:L/PR:L/UI:N/S:U/C:L/I:N/A:N",
		Description: "Reconnaissance: process read a sensitive procfs link " + path,
		PID:         ev.PID,
		Evidence:    path,
		Analyzer:    d.ID(),
	}}
}

func (d *Reconnaissance) Reset() {}
