package mc

import (
	"fmt"
	"strconv"
	"strings"
)

type SectionKind int

const (
	KindText SectionKind = iota
	KindReadOnly
	KindData
	KindBSS
)

// SectionType is an RGBDS memory region.
type SectionType int

const (
	ROM0 SectionType = iota
	ROMX
	VRAM
	SRAM
	WRAM0
	WRAMX
	OAM
	HRAM
)

var sectionTypeNames = [...]string{"ROM0", "ROMX", "VRAM", "SRAM", "WRAM0", "WRAMX", "OAM", "HRAM"}

func (t SectionType) String() string { return sectionTypeNames[t] }

// Section is a named fragment placed in a memory region and bank.
type Section struct {
	Name string
	Kind SectionKind
	Type SectionType
	Bank int
}

var sectionPrefixes = []struct {
	prefix string
	kind   SectionKind
	fixed  bool // one region whatever the bank
	typ    SectionType
	banked SectionType
}{
	{".text", KindText, false, ROM0, ROMX},
	{".rodata", KindReadOnly, false, ROM0, ROMX},
	{".data", KindData, false, WRAM0, WRAMX},
	{".bss", KindBSS, false, WRAM0, WRAMX},
	{".vram", KindBSS, true, VRAM, VRAM},
	{".sram", KindBSS, true, SRAM, SRAM},
	{".oam", KindBSS, true, OAM, OAM},
	{".hram", KindBSS, true, HRAM, HRAM},
}

// NewSection derives the region and bank of a section from its name: a
// known prefix followed by an optional decimal bank number. Bank 0 of code
// and data goes to the unbanked region, any other bank to the switchable one.
func NewSection(name string) (*Section, error) {
	for _, p := range sectionPrefixes {
		if !strings.HasPrefix(name, p.prefix) { continue }
		bank := 0
		if suffix := name[len(p.prefix):]; suffix != "" {
			n, err := strconv.Atoi(suffix)
			if err != nil || n < 0 { return nil, fmt.Errorf("section '%s': bad bank number '%s'", name, suffix) }
			bank = n
		}
		s := &Section{Name: name, Kind: p.kind, Type: p.typ, Bank: bank}
		if bank != 0 && !p.fixed { s.Type = p.banked }
		return s, nil
	}
	return nil, fmt.Errorf("section '%s' does not start with .text, .rodata, .data, .bss, .vram, .sram, .oam or .hram", name)
}

// IsVirtual reports whether the section is RAM: it reserves space but
// cannot hold initial contents.
func (s *Section) IsVirtual() bool {
	switch s.Type {
	case VRAM, SRAM, WRAM0, WRAMX, OAM, HRAM: return true
	}
	return false
}

// SwitchText is the directive starting the section.
func (s *Section) SwitchText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\tSECTION FRAGMENT\t\"%s\", %s", s.Name, s.Type)
	if s.Bank != 0 { fmt.Fprintf(&sb, ", BANK[%d]", s.Bank) }
	sb.WriteString("\n")
	return sb.String()
}
