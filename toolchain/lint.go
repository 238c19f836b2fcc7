package toolchain

import (
	"bufio"
	"bytes"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/LynnColeArt/sassplay"
)

var (
	// [B------:R-:W-:-:S02]  /*0010*/  MOV R1, c[0x0][0x28] ;
	instructionRe = regexp.MustCompile(`^\s*\[[^\]]*\]\s*/\*[0-9a-fA-F]+\*/\s*(.*)$`)
	diagLineRe    = regexp.MustCompile(`(?i)\bline\s*[:#]?\s*(\d+)\s*[:,-]?\s*(.*)$`)
)

// Lint checks edited CuAssembler text for mistakes that would otherwise
// surface as an opaque assembler failure: instruction lines without a
// closing ';', brackets that do not pair up on a line, and braces that do
// not pair up across the file. It does not validate instruction encodings.
func Lint(text []byte) []sassplay.SyntaxError {
	var (
		issues []sassplay.SyntaxError
		opened []int // line numbers of unclosed '{'
	)
	sc := bufio.NewScanner(bytes.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		for _, r := range line {
			switch r {
			case '{':
				opened = append(opened, lineNo)
			case '}':
				if len(opened) == 0 {
					issues = append(issues, sassplay.SyntaxError{Line: lineNo, Message: "unmatched '}'"})
				} else {
					opened = opened[:len(opened)-1]
				}
			}
		}
		if strings.Count(line, "[") != strings.Count(line, "]") {
			issues = append(issues, sassplay.SyntaxError{Line: lineNo, Message: "unbalanced brackets"})
			continue
		}
		if m := instructionRe.FindStringSubmatch(line); m != nil {
			ins := strings.Trim(m[1], "{} \t")
			if ins != "" && !strings.HasSuffix(ins, ";") {
				issues = append(issues, sassplay.SyntaxError{Line: lineNo, Message: "unterminated instruction (missing ';')"})
			}
		}
	}
	for _, l := range opened {
		issues = append(issues, sassplay.SyntaxError{Line: l, Message: "unclosed '{'"})
	}
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Line < issues[j].Line })
	return issues
}

// ParseDiagnostics extracts line-numbered messages from assembler output.
// The result is never empty: output without line numbers becomes a single
// diagnostic at line 0.
func ParseDiagnostics(stderr string) []sassplay.SyntaxError {
	var (
		out      []sassplay.SyntaxError
		lastErr  string
		lastLine string
	)
	sc := bufio.NewScanner(strings.NewReader(stderr))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lastLine = line
		if strings.Contains(line, "Error") || strings.Contains(line, "error") {
			lastErr = line
		}
		if strings.HasPrefix(line, "File ") {
			continue // traceback frame, not a position in the input
		}
		m := diagLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		msg := strings.TrimSpace(m[2])
		if msg == "" {
			msg = line
		}
		out = append(out, sassplay.SyntaxError{Line: n, Message: msg})
	}
	if len(out) > 0 {
		return out
	}
	switch {
	case lastErr != "":
		return []sassplay.SyntaxError{{Message: lastErr}}
	case lastLine != "":
		return []sassplay.SyntaxError{{Message: lastLine}}
	default:
		return []sassplay.SyntaxError{{Message: "assembler failed without diagnostics"}}
	}
}
