package vault

// Phase says what part of a pass an Event came from.
type Phase int

const (
	ScanPhase    Phase = iota // walking the source, diffing against history
	SavePhase                 // writing archive pieces and the TOC
	RestorePhase              // extracting from archives
	VerifyPhase               // rereading archives at the destination
	DonePhase                 // pass finished
)

func (p Phase) String() string {
	switch p {
	case ScanPhase:
		return "scan"
	case SavePhase:
		return "save"
	case RestorePhase:
		return "restore"
	case VerifyPhase:
		return "verify"
	case DonePhase:
		return "done"
	}
	return "unknown"
}

// An Event reports progress from a running pass: the phase, the path or
// archive being worked on, and the pass counters so far.
type Event struct {
	Phase   Phase
	Path    string
	Archive string
	Saved   int
	Skipped int
	Missing int
	Errors  int
}
