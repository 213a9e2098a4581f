package detect

import "strings"

// AccessControl (D1) watches privilege-escalation syscalls and path abuse on
// openat. Grounded on the source's Wrapper/analyzers/AccessControl.py
// variants, which fire on uid==0 setuid-family calls and on "../"/sensitive
// paths in TRACK_OPENAT.
type AccessControl struct{}

func NewAccessControl() *AccessControl { return &AccessControl{} }

func (d *AccessControl) ID() string { return "AccessControl" }

var setidEvents = map[string]bool{
	"SETUID": true, "SETGID": true, "SETREUID": true, "SETRESUID": true,
}

var sensitiveFiles = map[string]bool{
	"/etc/passwd": true, "/etc/shadow": true, "/etc/sudoers": true,
}

func (d *AccessControl) Observe(ev Event) []Verdict {
	if setidEvents[ev.Kind] && ev.Int("uid") == 0 {
		return []Verdict{{
			Level:       LevelHigh,
			CVSSVector:  "CVSS:3.1/AV:L/AC:L/PR:L/UI:N/S:C/C:H/I:H/A:H",
			Description: "Privilege Escalation: process invoked " + ev.Kind + " with uid=0",
			PID:         ev.PID,
			Evidence:    ev.Kind,
			Analyzer:    d.ID(),
		}}
	}

	if ev.Kind != "TRACK_OPENAT" {
		return nil
	}

	file := ev.Str("file")
	if file == "" {
		file = ev.Str("filename")
	}
	var out []Verdict
	if strings.Contains(file, "../") {
		out = append(out, Verdict{
			Level:       LevelMedium,
			CVSSVector:  "CVSS:3.1/AV:L/AC:L/PR:L/UI:N/S:U/C:H/I:N/A:N",
			Description: "Path Traversal: openat path contains \"../\"",
			PID:         ev.PID,
			Evidence:    file,
			Analyzer:    d.ID(),
		})
	}
	if isSensitiveFile(file) {
		out = append(out, Verdict{
			Level:       LevelHigh,
			CVSSVector:  "CVSS:3.1/AV:L/AC:L/PR:L/UI:N/S:U/C:H/I:N/A:N",
			Description: "Sensitive File Access: openat on " + file,
			PID:         ev.PID,
			Evidence:    file,
			Analyzer:    d.ID(),
		})
	}
	return out
}

func (d *AccessControl) Reset() {}

// isSensitiveFile matches by suffix rather than strict equality: a
// traversal-laden path that resolves onto a sensitive file (e.g.
// "/var/www/../../../etc/passwd") still names that file, and spec.md's S2
// scenario requires both the path-traversal and the sensitive-file verdict
// to fire on exactly such an input.
func isSensitiveFile(file string) bool {
	for f := range sensitiveFiles {
		if strings.HasSuffix(file, f) {
			return true
		}
	}
	return false
}
