// Package ctxbin implements the context binary container.
//
// A context binary is a single-file, memory-mappable container holding the
// compiled graph descriptors for a model together with the opaque payload the
// execution backend needs to instantiate them. It describes structure and data
// only and never implies how a backend executes the graphs.
package ctxbin

// Container global constants must never change.
const (
	// Magic is the file magic for all context binaries, encoded as "KVB\0".
	Magic = "KVB\x00"

	// CurrentMajor changes only on breaking layout changes.
	CurrentMajor uint16 = 1

	// CurrentMinor may add new optional sections or fields.
	CurrentMinor uint16 = 0

	headerSize  = 40
	sectionSize = 24
	align       = 8
)

type SectionType uint32

const (
	SectionGraphInfo SectionType = 0x0001
	SectionWeights   SectionType = 0x0002
	SectionVocab     SectionType = 0x0003
	SectionMetadata  SectionType = 0x0004
)

func (t SectionType) String() string {
	switch t {
	case SectionGraphInfo:
		return "graph_info"
	case SectionWeights:
		return "weights"
	case SectionVocab:
		return "vocab"
	case SectionMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != Magic {
		return false
	}
	if h.HeaderSize < headerSize {
		return false
	}
	return h.SectionCount != 0
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s *Section) End() uint64 {
	return s.Offset + s.Size
}
