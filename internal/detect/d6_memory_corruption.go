package detect

import "fmt"

const mmapMaxPagesThreshold = 65536

// MemoryCorruption (D6) fires on an executable MPROTECT (critical — classic
// shellcode staging) and on an oversized cumulative MMAP (medium). Grounded
// on Wrapper/analyzers/MemoryCorruption.py.
type MemoryCorruption struct{}

func NewMemoryCorruption() *MemoryCorruption { return &MemoryCorruption{} }

func (d *MemoryCorruption) ID() string { return "MemoryCorruption" }

func (d *MemoryCorruption) Observe(ev Event) []Verdict {
	if ev.Kind == "MPROTECT" && (ev.Bool("exec") || ev.Int("exec") == 1) {
		return []Verdict{{
			Level:       LevelCritical,
			CVSSVector:  "CVSS:3.1/AV:L/AC:L/PR:L/UI:N/S:C/C:H/I:H/A:H",
			Description: "Memory Corruption: mprotect granted executable permission",
			PID:         ev.PID,
			Evidence:    "mprotect exec=1",
			Analyzer:    d.ID(),
		}}
	}
	if ev.SubKind == "MMAP_SUM" {
		pages := ev.MetaMaxPages()
		if pages > mmapMaxPagesThreshold {
			return []Verdict{{
				Level:       LevelMedium,
				CVSSVector:  "CVSS:3.1/AV:L/AC:L/PR:L/UI:N/S:U/C:N/I:N/A:H",
				Description: "Memory Corruption: cumulative mmap exceeds page ceiling",
				PID:         ev.PID,
				Evidence:    fmt.Sprintf("max_pages=%d (threshold %d)", pages, mmapMaxPagesThreshold),
				Analyzer:    d.ID(),
			}}
		}
	}
	return nil
}

func (d *MemoryCorruption) Reset() {}
