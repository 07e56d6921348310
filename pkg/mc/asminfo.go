package mc

// AsmInfo describes the RGBDS assembly dialect the printer writes.
type AsmInfo struct {
	CodePointerSize         int
	CalleeSaveStackSlotSize int
	MaxInstLength           int
	LittleEndian            bool
	// AlignmentIsInBytes is false: align takes a power of two.
	AlignmentIsInBytes bool

	CommentString       string
	GlobalDirective     string
	ZeroDirective       string
	AsciiDirective      string
	Data8bitsDirective  string
	Data16bitsDirective string
	Data32bitsDirective string
}

var RGBDS = &AsmInfo{
	CodePointerSize:         2,
	CalleeSaveStackSlotSize: 2,
	MaxInstLength:           3,
	LittleEndian:            true,

	CommentString:       ";",
	GlobalDirective:     "GLOBAL",
	ZeroDirective:       "\tds\t",
	AsciiDirective:      "\tdb\t",
	Data8bitsDirective:  "\tdb\t",
	Data16bitsDirective: "\tdw\t",
	Data32bitsDirective: "\tdl\t",
}
