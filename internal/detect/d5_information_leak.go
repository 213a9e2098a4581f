package detect

import (
	"fmt"

	"github.com/qguardian/qguardian/internal/detect/state"
)

const infoLeakWindowSize = 10
const infoLeakFactor = 10
const infoLeakThreshold = 16

// InformationLeak (D5) correlates a large outbound transfer against recent
// small inbound ones: a SENDTO/WRITE larger than infoLeakFactor times any of
// the last infoLeakWindowSize RECVFROM/READ sizes is a Heartbleed-shape
// leak. Grounded on Wrapper/analyzers/InformationLeakage.py, which walks its
// deque newest-first and stops at the first match.
type InformationLeak struct {
	recvSizes *state.Buffer
	readSizes *state.Buffer
}

func NewInformationLeak() *InformationLeak {
	return &InformationLeak{
		recvSizes: state.NewBuffer(infoLeakWindowSize),
		readSizes: state.NewBuffer(infoLeakWindowSize),
	}
}

func (d *InformationLeak) ID() string { return "InformationLeak" }

func (d *InformationLeak) Observe(ev Event) []Verdict {
	switch ev.Kind {
	case "RECVFROM":
		d.recvSizes.Push(ev.Int("size"))
	case "SENDTO":
		return d.checkOutbound(ev, ev.Int("len"), d.recvSizes, "Network Information Leak", "receive")
	case "READ":
		d.readSizes.Push(ev.Len("buf"))
	case "WRITE":
		return d.checkOutbound(ev, ev.Len("buf"), d.readSizes, "File I/O Information Leak", "read")
	}
	return nil
}

func (d *InformationLeak) checkOutbound(ev Event, outSize int64, inbound *state.Buffer, label, inboundNoun string) []Verdict {
	if outSize <= infoLeakThreshold {
		return nil
	}
	for _, priorSize := range inbound.Snapshot() {
		if outSize > priorSize*infoLeakFactor {
			return []Verdict{{
				Level:       LevelHigh,
				CVSSVector:  "CVSS:3.1/AV:N/AC:H/PR:N/UI:N/S:U/C:H/I:N/A:N",
				Description: "Information Leak: " + label,
				PID:         ev.PID,
				Evidence:    fmt.Sprintf("outbound size=%d following small %s size=%d", outSize, inboundNoun, priorSize),
				Analyzer:    d.ID(),
			}}
		}
	}
	return nil
}

func (d *InformationLeak) Reset() {
	d.recvSizes.Reset()
	d.readSizes.Reset()
}
