package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// DataLayout holds the parts of a layout string the backend consumes.
type DataLayout struct {
	BigEndian  bool
	Mangling   byte
	StackAlign int
	NativeInts []int
	pointers   map[int]int
	raw        string
}

// SM83Layout is the layout string the front end emits for this target.
const SM83Layout = "e-m:s-p:16:8-p1:8:8-i16:8-i32:8-i64:8-a:0:8-n8:16"

var DefaultLayout = MustParseDataLayout(SM83Layout)

func MustParseDataLayout(s string) *DataLayout {
	dl, err := ParseDataLayout(s)
	if err != nil { panic(err) }
	return dl
}

func ParseDataLayout(s string) (*DataLayout, error) {
	dl := &DataLayout{pointers: map[int]int{0: 64}, raw: s}
	if s == "" { return dl, nil }

	for _, spec := range strings.Split(s, "-") {
		if spec == "" { return nil, fmt.Errorf("datalayout '%s': empty specification", s) }
		fields := strings.Split(spec, ":")
		head := fields[0]
		bad := func() (*DataLayout, error) { return nil, fmt.Errorf("datalayout '%s': malformed '%s'", s, spec) }

		switch head[0] {
		case 'e', 'E':
			if len(spec) != 1 { return bad() }
			dl.BigEndian = head[0] == 'E'
		case 'm':
			if len(fields) != 2 || len(fields[1]) != 1 { return bad() }
			dl.Mangling = fields[1][0]
		case 'p':
			as := 0
			if len(head) > 1 {
				n, err := strconv.Atoi(head[1:])
				if err != nil { return bad() }
				as = n
			}
			if len(fields) < 2 { return bad() }
			size, err := strconv.Atoi(fields[1])
			if err != nil || size <= 0 { return bad() }
			dl.pointers[as] = size
		case 'S':
			n, err := strconv.Atoi(head[1:])
			if err != nil { return bad() }
			dl.StackAlign = n
		case 'n':
			dl.NativeInts = dl.NativeInts[:0]
			for i, f := range fields {
				if i == 0 { f = f[1:] }
				n, err := strconv.Atoi(f)
				if err != nil { return bad() }
				dl.NativeInts = append(dl.NativeInts, n)
			}
		case 'i', 'f', 'v', 'a':
			for _, f := range fields[1:] {
				if _, err := strconv.Atoi(f); err != nil { return bad() }
			}
		default:
			return bad()
		}
	}
	return dl, nil
}

// PointerSize returns the pointer width in bits for an address space.
func (dl *DataLayout) PointerSize(as int) int {
	if n, ok := dl.pointers[as]; ok { return n }
	return dl.pointers[0]
}

func (dl *DataLayout) IsNativeInt(bits int) bool {
	for _, n := range dl.NativeInts {
		if n == bits { return true }
	}
	return false
}

func (dl *DataLayout) String() string { return dl.raw }
