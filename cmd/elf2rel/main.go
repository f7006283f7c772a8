// Command elf2rel converts a relocatable ELF object built for 32-bit
// big-endian PowerPC into a REL module for the GameCube/Wii OSLink
// loader. This is the thin CLI shell around the reltool pipeline; the
// original tool did the same work with boost::program_options over the
// same flag set.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	xelf "github.com/dolphin-tools/elf2rel/elfview"
	"github.com/dolphin-tools/elf2rel/internal/rellog"
	"github.com/dolphin-tools/elf2rel/internal/reltool"
	"github.com/dolphin-tools/elf2rel/symmap"
	"golang.org/x/arch/ppc64/ppc64asm"
)

// stringList collects the values of a flag that may be repeated, in the
// order given on the command line. It satisfies flag.Value.
type stringList []string

func (s *stringList) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// hexOrDecimal parses a uint32 flag value in either decimal or
// 0x-prefixed hex, matching --rel-id's documented CLI grammar.
type hexOrDecimal uint32

func (h *hexOrDecimal) String() string {
	return strconv.FormatUint(uint64(*h), 10)
}

func (h *hexOrDecimal) Set(v string) error {
	n, err := strconv.ParseUint(v, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid integer %q", v)
	}
	*h = hexOrDecimal(n)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("elf2rel", flag.ContinueOnError)
	fs.SetOutput(stderr)

	inputFile := fs.String("input-file", "", "path to the input ELF object (also accepted as a positional argument)")
	fs.StringVar(inputFile, "i", "", "shorthand for -input-file")

	var symbolFiles stringList
	fs.Var(&symbolFiles, "symbol-file", "path to a symbol map file; may be repeated")
	fs.Var(&symbolFiles, "s", "shorthand for -symbol-file")

	outputFile := fs.String("output-file", "", "path to the output REL file (default: input path with its extension replaced by .rel)")
	fs.StringVar(outputFile, "o", "", "shorthand for -output-file")

	relID := hexOrDecimal(0x1000)
	fs.Var(&relID, "rel-id", "module id to embed in the REL header, decimal or 0x-hex")

	relVersion := fs.Int("rel-version", 3, "REL header version (1, 2, or 3)")

	verify := fs.Bool("verify", false, "disassemble every branch-form (opcode 18) word in the finished image, for manual inspection")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	if *inputFile == "" && fs.NArg() > 0 {
		*inputFile = fs.Arg(0)
	}
	if *inputFile == "" {
		fmt.Fprintln(stderr, "elf2rel: an input ELF file is required (-i/--input-file)")
		fs.Usage()
		return 1
	}
	if len(symbolFiles) == 0 {
		fmt.Fprintln(stderr, "elf2rel: at least one symbol map is required (-s/--symbol-file)")
		fs.Usage()
		return 1
	}
	if *relVersion < 1 || *relVersion > 3 {
		fmt.Fprintf(stderr, "elf2rel: unsupported --rel-version %d: only 1, 2, and 3 are supported\n", *relVersion)
		return 1
	}
	if *outputFile == "" {
		*outputFile = defaultOutputPath(*inputFile)
	}

	log := rellog.New()

	in, err := os.Open(*inputFile)
	if err != nil {
		fmt.Fprintf(stderr, "elf2rel: %v\n", err)
		return 1
	}
	defer in.Close()

	f, err := xelf.Open(in)
	if err != nil {
		fmt.Fprintf(stderr, "elf2rel: %v\n", err)
		return 1
	}

	syms, err := symmap.Load(symbolFiles, openFile, log)
	if err != nil {
		fmt.Fprintf(stderr, "elf2rel: %v\n", err)
		return 1
	}

	out, err := reltool.Build(f, reltool.Options{
		ModuleID: uint32(relID),
		Version:  *relVersion,
		Symbols:  syms,
	}, log)
	if err != nil {
		fmt.Fprintf(stderr, "elf2rel: %v\n", err)
		return 1
	}

	if *verify {
		verifyBranches(out, stdout)
	}

	if err := os.WriteFile(*outputFile, out, 0o644); err != nil {
		fmt.Fprintf(stderr, "elf2rel: writing %s: %v\n", *outputFile, err)
		return 1
	}

	return 0
}

func openFile(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// defaultOutputPath returns the input path with the extension of its
// final path element replaced by ".rel". If the final element has no
// '.', ".rel" is appended to the whole path; a '.' in a directory name
// is never treated as an extension.
func defaultOutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".rel"
}

// verifyBranches re-disassembles every 4-byte word in the output image
// that looks like a branch-form PowerPC instruction (opcode 18, the
// encoding used by bl/b, the only forms REL24 early-resolve patches) and
// prints its GNU-syntax mnemonic. It's a diagnostic aid for confirming
// an early-resolve patch preserved the opcode and link bits, not a
// disassembler for general use.
func verifyBranches(image []byte, out *os.File) {
	for off := 0; off+4 <= len(image); off += 4 {
		word := binary.BigEndian.Uint32(image[off : off+4])
		if word>>26 != 18 { // primary opcode field, bits 0-5
			continue
		}
		inst, err := ppc64asm.Decode(image[off:off+4], binary.BigEndian)
		if err != nil {
			continue
		}
		fmt.Fprintf(out, "%#08x: %s\n", off, ppc64asm.GNUSyntax(inst, uint64(off)))
	}
}
