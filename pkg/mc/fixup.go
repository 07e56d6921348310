package mc

import (
	"errors"
	"fmt"
)

type FixupKind int

const (
	FixupData1 FixupKind = iota
	FixupData2
	FixupPCRel1
	NumFixupKinds
)

var fixupNames = [...]string{"data_1", "data_2", "pcrel_1"}

func (k FixupKind) String() string {
	if k >= 0 && k < NumFixupKinds { return fixupNames[k] }
	return fmt.Sprintf("fixup(%d)", int(k))
}

// HasRelocationAddend reports that relocations carry their addend in the
// relocation entry rather than in the section bytes.
const HasRelocationAddend = true

var ErrInvalidFixup = errors.New("invalid fixup kind")

// RelocType maps a fixup onto an object file relocation. No relocation types
// are defined for this target yet, so every fixup is rejected.
func RelocType(k FixupKind, pcRel bool) (uint32, error) {
	return 0, fmt.Errorf("%s (pc-relative %v): %w", k, pcRel, ErrInvalidFixup)
}
