package sassplay

import (
	"bytes"
	"debug/elf"
	"fmt"
	"regexp"
	"sort"
)

// ImageFormat is the encoding of a loadable kernel image.
type ImageFormat int

const (
	FormatUnknown ImageFormat = iota
	FormatCubin               // ELF device binary
	FormatPTX                 // PTX text, JIT-compiled by the driver
	FormatCuasm               // CuAssembler text
)

func (f ImageFormat) String() string {
	switch f {
	case FormatCubin:
		return "cubin"
	case FormatPTX:
		return "ptx"
	case FormatCuasm:
		return "cuasm"
	default:
		return "unknown"
	}
}

// Image is the parsed header information of a kernel image.
type Image struct {
	Format  ImageFormat
	Arch    string   // sm_XX when recoverable
	Entries []string // sorted
}

// stoCudaEntry marks kernel entry functions in a cubin's st_other field.
const stoCudaEntry = 0x10

var (
	ptxEntryRe   = regexp.MustCompile(`(?m)\.entry\s+([A-Za-z_$][\w$]*)`)
	ptxTargetRe  = regexp.MustCompile(`(?m)^\s*\.target\s+(sm_\d+[a-z]?)`)
	cuasmFuncRe  = regexp.MustCompile(`(?m)^\s*\.type\s+([A-Za-z_$.][\w$.]*)\s*,\s*@function`)
	cuasmArchRe  = regexp.MustCompile(`(?mi)\barch\s*[:=]\s*(sm_\d+[a-z]?)`)
	elfMagicByte = []byte("\x7fELF")
)

// ParseImage identifies the format of a kernel image and lists its entry
// points. A binary that cannot be read at all is reported with the parser's
// diagnostic unchanged.
func ParseImage(data []byte) (*Image, error) {
	if bytes.HasPrefix(data, elfMagicByte) {
		return parseCubin(data)
	}
	if m := ptxEntryRe.FindAllSubmatch(data, -1); len(m) > 0 {
		img := &Image{Format: FormatPTX, Entries: uniqueSorted(m)}
		if t := ptxTargetRe.FindSubmatch(data); t != nil {
			img.Arch = string(t[1])
		}
		return img, nil
	}
	if m := cuasmFuncRe.FindAllSubmatch(data, -1); len(m) > 0 {
		img := &Image{Format: FormatCuasm, Entries: uniqueSorted(m)}
		if t := cuasmArchRe.FindSubmatch(data); t != nil {
			img.Arch = string(t[1])
		}
		return img, nil
	}
	return nil, NewInvalidArgError("ParseImage", "unrecognized kernel image: no ELF header and no entry declarations")
}

func parseCubin(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return nil, err
	}

	var entries, funcs []string
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Section == elf.SHN_UNDEF || s.Name == "" {
			continue
		}
		funcs = append(funcs, s.Name)
		if s.Other&stoCudaEntry != 0 {
			entries = append(entries, s.Name)
		}
	}
	// Older toolchains do not tag entries; fall back to every function.
	if len(entries) == 0 {
		entries = funcs
	}
	sort.Strings(entries)

	return &Image{Format: FormatCubin, Arch: cubinArch(f, data), Entries: entries}, nil
}

// cubinArch decodes the SM version from e_flags, which debug/elf does not
// expose.
func cubinArch(f *elf.File, data []byte) string {
	if f.Machine != elf.EM_CUDA {
		return ""
	}
	off := 36
	if f.Class == elf.ELFCLASS64 {
		off = 48
	}
	if len(data) < off+4 {
		return ""
	}
	flags := f.ByteOrder.Uint32(data[off : off+4])
	sm := flags & 0xff
	if sm == 0 {
		sm = (flags >> 8) & 0xff
	}
	if sm == 0 {
		return ""
	}
	return fmt.Sprintf("sm_%d", sm)
}

func uniqueSorted(matches [][][]byte) []string {
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := string(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
