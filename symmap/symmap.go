// Package symmap loads the external symbol map files that name targets
// defined outside the ELF object being linked: either the dol (the main
// executable, module id 0) or another REL module. The grammar and merge
// behavior follow the original elf2rel tool's loadSymbolMap/parseSymbol
// functions.
package symmap

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dolphin-tools/elf2rel/internal/rellog"
)

// Location names where a symbol lives: in the dol at a fixed address, or
// in some REL module's section at an offset.
type Location struct {
	ModuleID      uint32 // 0 denotes the dol.
	TargetSection uint32 // Ignored when ModuleID == 0.
	Addr          uint32
}

// Map is a merged symbol name to Location mapping loaded from one or more
// symbol map files.
type Map map[string]Location

// Load reads the symbol map files at paths in order and merges them into
// one Map. On a name collision across files, the first file to define the
// name wins — this matches the original tool's std::map::merge semantics,
// which never overwrites an existing key.
//
// Malformed lines are reported through log and skipped; Load only returns
// an error for an I/O failure opening or reading a file.
func Load(paths []string, open func(path string) (io.ReadCloser, error), log *rellog.Logger) (Map, error) {
	out := make(Map)
	for _, path := range paths {
		f, err := open(path)
		if err != nil {
			return nil, fmt.Errorf("opening symbol map %s: %w", path, err)
		}
		err = loadOne(f, path, out, log)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading symbol map %s: %w", path, err)
		}
	}
	return out, nil
}

func loadOne(r io.Reader, path string, out Map, log *rellog.Logger) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimLeft(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		name, loc, ok := parseLine(line)
		if !ok {
			log.ParseError(path, lineNo, line)
			continue
		}
		if _, exists := out[name]; !exists {
			out[name] = loc
		}
	}
	return scanner.Err()
}

// parseLine parses one "LHS:name" symbol map line. LHS is either a single
// hex address (a dol symbol) or three comma-separated fields
// "moduleId,targetSection,addr" (a REL symbol), where moduleId and
// targetSection accept decimal, 0x-prefixed hex, or 0-prefixed octal, and
// addr is always hex.
func parseLine(line string) (name string, loc Location, ok bool) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", Location{}, false
	}
	lhs := strings.TrimSpace(line[:colon])
	name = strings.TrimSpace(line[colon+1:])

	fields := strings.Split(lhs, ",")
	switch len(fields) {
	case 1:
		addr, err := parseHex(fields[0])
		if err != nil {
			return "", Location{}, false
		}
		return name, Location{ModuleID: 0, TargetSection: 0, Addr: addr}, true
	case 3:
		moduleID, err := parseAuto(strings.TrimSpace(fields[0]))
		if err != nil {
			return "", Location{}, false
		}
		targetSection, err := parseAuto(strings.TrimSpace(fields[1]))
		if err != nil {
			return "", Location{}, false
		}
		addr, err := parseHex(strings.TrimSpace(fields[2]))
		if err != nil {
			return "", Location{}, false
		}
		return name, Location{ModuleID: moduleID, TargetSection: targetSection, Addr: addr}, true
	default:
		return "", Location{}, false
	}
}

// parseHex parses s as an unsigned 32-bit hex integer, with or without a
// leading "0x".
func parseHex(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

// parseAuto parses s as an unsigned 32-bit integer, auto-detecting base
// from a "0x"/"0X" (hex) or leading "0" (octal) prefix, decimal otherwise.
func parseAuto(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}
