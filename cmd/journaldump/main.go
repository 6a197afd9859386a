// Journaldump lists the sectors and records of a journal image captured from
// a device, e.g. a raw dump of the flash region backing a ring journal.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	storage "github.com/minuteos/lib-storage"
)

var (
	size       = flag.Uint32("size", 8192, "total size of the journal region in bytes")
	sectorSize = flag.Uint32("sector-size", 4096, "sector size of the medium in bytes")
	magic      = flag.String("magic", "JRNL", "sector magic, 4 characters or 0x-prefixed hex")
	cached     = flag.Bool("cached", false, "read through a page cache")
	dumpHex    = flag.Bool("hex", false, "hex-dump record payloads")
	verbose    = flag.Bool("verbose", false, "log the recovery scan")
)

// parseMagic accepts either a 4-character identifier, stored little-endian
// the way device firmware packs them, or a hex value.
func parseMagic(s string) (uint32, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 32)
		return uint32(v), err
	}
	if len(s) != 4 {
		return 0, fmt.Errorf("magic %q is not 4 characters", s)
	}
	return uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "journaldump:", err)
	os.Exit(1)
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: journaldump [flags] <image>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	m, err := parseMagic(*magic)
	if err != nil {
		fatal(err)
	}

	fs, err := storage.NewFileStorage(flag.Arg(0), *size, *sectorSize)
	if err != nil {
		fatal(err)
	}
	defer fs.Close()

	var store storage.ByteStorage = fs
	if *cached {
		store = storage.NewCachedStorage(fs, 0)
	}

	j := storage.NewJournal(store, storage.NewSimpleVariableFormat(m))
	if *verbose {
		j.SetLogger(log.New(os.Stderr, "journal: ", 0))
	}
	if err := j.Scan(); err != nil {
		fatal(err)
	}

	records := 0
	var se storage.SectorEnumerator
	j.EnumerateSectors(&se)
	for {
		ok, err := j.NextSector(&se)
		if err != nil {
			fatal(err)
		}
		if !ok {
			break
		}

		hdr := make([]byte, 8)
		if _, err := j.ReadSectorHeader(&se, hdr, 0); err != nil {
			fatal(err)
		}
		seq := binary.LittleEndian.Uint32(hdr[4:8])
		fmt.Printf("sector %#06x  seq %d\n", uint32(se.Sector()), seq)

		var re storage.RecordEnumerator
		j.EnumerateRecords(&re, se.Sector())
		for {
			n, err := j.NextRecord(&re)
			if err != nil {
				fatal(err)
			}
			if n == 0 {
				break
			}
			records++
			fmt.Printf("  record @ %#06x  %d bytes\n", re.Address(), n)
			if *dumpHex {
				buf := make([]byte, n)
				if _, err := j.ReadRecord(&re, buf, 0); err != nil {
					fatal(err)
				}
				fmt.Print(indent(hex.Dump(buf), "    "))
			}
		}
	}
	fmt.Printf("%d records total\n", records)
}

func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, l := range lines {
		if l != "" {
			b.WriteString(prefix)
			b.WriteString(l)
		}
	}
	return b.String()
}
