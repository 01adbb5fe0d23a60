// Command vmdkparse reads a VMDK disk image and either lists the directories
// of its NTFS partitions, prints its snapshot lineage, or extracts a single
// file out of one of its NTFS partitions,
// without ever writing to the image itself (spec.md §6 "External
// interfaces").
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/dstl1128/vmdkparse/config"
	"github.com/dstl1128/vmdkparse/driver"
)

// Exit codes (spec.md §6/§7): distinct codes let a caller distinguish
// "nothing to extract" from "the tool itself is broken" without parsing
// stderr.
const (
	exitOK            = 0
	exitInternalError = 1
	exitUsageError    = 2
	exitVMDKNotFound  = 3
	exitPathNotFound  = 7
)

var (
	app = kingpin.New("vmdkparse", "Read-only NTFS-inside-VMDK file extractor.")

	configPath = app.Flag("config", "Optional defaults file (partition, inner path, output name).").
			Short('c').String()
	logLevel = app.Flag("log-level", "Logging verbosity: debug, info, warn, error.").
			Default("info").String()

	snapshotCmd  = app.Command("snapshot", "Directory-list every NTFS partition of a VMDK image.")
	snapshotPath = snapshotCmd.Arg("vmdk", "Path to the VMDK descriptor or monolithic image.").Required().String()
	snapshotOut  = snapshotCmd.Arg("out", "Optional file to write the listing to instead of stdout.").String()

	lineageCmd  = app.Command("lineage", "Print the VMDK parent (snapshot) chain itself, diagnostic only.")
	lineagePath = lineageCmd.Arg("vmdk", "Path to the VMDK descriptor or monolithic image.").Required().String()

	dumpCmd       = app.Command("dump", "Extract one file out of an NTFS partition inside a VMDK image.")
	dumpPath      = dumpCmd.Arg("vmdk", "Path to the VMDK descriptor or monolithic image.").Required().String()
	dumpPartition = dumpCmd.Arg("partition", "Partition index to read (0-based).").Int()
	dumpInner     = dumpCmd.Arg("inner-path", "Path of the file to extract inside the NTFS volume.").String()
	dumpOut       = dumpCmd.Arg("out", "File to write the extracted content to.").String()
)

func main() {
	os.Exit(run())
}

func run() int {
	app.HelpFlag.Short('h')
	command, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "vmdkparse:", err)
		return exitUsageError
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	}

	defaults, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vmdkparse:", err)
		return exitUsageError
	}

	d := driver.New(logger)

	switch command {
	case snapshotCmd.FullCommand():
		return runSnapshot(d, *snapshotPath, *snapshotOut)
	case lineageCmd.FullCommand():
		return runSnapshotLineage(d, *lineagePath)
	case dumpCmd.FullCommand():
		partition := defaults.Partition
		if *dumpPartition != 0 {
			partition = *dumpPartition
		}
		inner := defaults.InnerPath
		if *dumpInner != "" {
			inner = *dumpInner
		}
		out := defaults.DumpOutput
		if *dumpOut != "" {
			out = *dumpOut
		}
		return runDump(d, *dumpPath, partition, inner, out)
	default:
		app.Usage(os.Args[1:])
		return exitUsageError
	}
}

// runSnapshot implements the `snapshot` command (spec.md §6): a depth-first directory
// listing of every NTFS partition on the VMDK chain rooted at vmdkPath. When
// outPath is given, the listing also writes `<outPath>.mbr.bin` (sector 0)
// and `<outPath>.bootN.bin` (the boot sector of each partition N) alongside
// it; with no outPath the listing goes to stdout and no sidecar files are
// written.
func runSnapshot(d *driver.Driver, vmdkPath, outPath string) int {
	disk, err := d.OpenVMDK(vmdkPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "vmdkparse:", err)
			return exitVMDKNotFound
		}
		fmt.Fprintln(os.Stderr, "vmdkparse:", err)
		return exitInternalError
	}
	defer disk.Close()

	listing, err := d.BuildListing(disk)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vmdkparse:", err)
		return exitInternalError
	}

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "vmdkparse:", err)
			return exitInternalError
		}
		defer f.Close()
		out = f
	}
	fmt.Fprint(out, listing.Text)

	if outPath == "" {
		return exitOK
	}

	if err := os.WriteFile(outPath+".mbr.bin", listing.MBR, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "vmdkparse:", err)
		return exitInternalError
	}
	for i, boot := range listing.BootSectors {
		name := fmt.Sprintf("%s.boot%d.bin", outPath, i)
		if err := os.WriteFile(name, boot, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "vmdkparse:", err)
			return exitInternalError
		}
	}
	return exitOK
}

// runSnapshotLineage is a diagnostic, non-spec-mandated companion to
// runSnapshot: it prints the VMDK parent chain itself (depth, CID,
// parentCID) rather than the NTFS directory listing.
func runSnapshotLineage(d *driver.Driver, vmdkPath string) int {
	disk, err := d.OpenVMDK(vmdkPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "vmdkparse:", err)
			return exitVMDKNotFound
		}
		fmt.Fprintln(os.Stderr, "vmdkparse:", err)
		return exitInternalError
	}
	defer disk.Close()

	for _, snap := range driver.ListSnapshots(disk) {
		fmt.Printf("%d\t%s\t%s\n", snap.Depth, snap.ContentID, snap.ParentContentID)
	}
	return exitOK
}

func runDump(d *driver.Driver, vmdkPath string, partition int, innerPath, outPath string) int {
	disk, err := d.OpenVMDK(vmdkPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "vmdkparse:", err)
			return exitVMDKNotFound
		}
		fmt.Fprintln(os.Stderr, "vmdkparse:", err)
		return exitInternalError
	}
	defer disk.Close()

	out, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vmdkparse:", err)
		return exitInternalError
	}
	defer out.Close()

	if _, err := d.ExtractFile(disk, partition, innerPath, out); err != nil {
		fmt.Fprintln(os.Stderr, "vmdkparse:", err)
		return exitPathNotFound
	}
	return exitOK
}
