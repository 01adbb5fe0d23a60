package vmdk

import (
	"fmt"
	"strconv"
	"strings"
)

// Section markers that divide a VMDK descriptor text file, per the VMDK
// descriptor grammar (spec.md §4.2 / §6).
const (
	sectionDiskDescriptorFile = "# Disk DescriptorFile"
	sectionExtentDescription  = "# Extent description"
	sectionDiskDataBase       = "# The Disk Data Base"
	sectionDDB                = "#DDB"
)

// ExtentDescriptor is one line of the "Extent description" section: the tuple
// (sectors, type, filename, offset) spec.md §3 says is retained, plus the
// access-mode string (unused by the reader, kept for fidelity).
type ExtentDescriptor struct {
	AccessMode string
	Sectors    uint64
	Type       string // FLAT, SPARSE, or another recognized-but-unsupported value
	Filename   string
	Offset     uint64 // FLAT extents only; 0 when absent
}

// Descriptor is the parsed key/value mapping plus the ordered extent list.
type Descriptor struct {
	Attr    map[string]string
	Extents []ExtentDescriptor
	DDB     map[string]string
}

// ParentFileNameHint returns the parent descriptor's path, if this disk is a
// delta/snapshot disk. A parentCID of "ffffffff" means there is no parent,
// matching the gate go-vdisk applies before recursing into a parent VMDK.
func (d *Descriptor) ParentFileNameHint() (string, bool) {
	hint := d.Attr["parentFileNameHint"]
	if hint == "" {
		return "", false
	}
	if strings.EqualFold(d.Attr["parentCID"], "ffffffff") {
		return "", false
	}
	return strings.Trim(hint, `"`), true
}

// ParseDescriptor parses the line-oriented VMDK descriptor text grammar:
// blank lines, comments, key=value lines (value optionally double-quoted,
// whitespace-stripped), and extent lines
// `ACCESS SECTORS TYPE "FILENAME" [OFFSET]`. Section markers gate which map
// (Attr vs DDB) plain key=value lines land in; unknown keys are preserved.
func ParseDescriptor(text string) (*Descriptor, error) {
	d := &Descriptor{
		Attr: make(map[string]string),
		DDB:  make(map[string]string),
	}

	inDDB := false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			switch {
			case strings.HasPrefix(line, sectionDDB),
				strings.HasPrefix(line, sectionDiskDataBase):
				inDDB = true
			case strings.HasPrefix(line, sectionDiskDescriptorFile),
				strings.HasPrefix(line, sectionExtentDescription):
				inDDB = false
			}
			continue
		}

		if ext, ok, err := parseExtentLine(line); err != nil {
			return nil, err
		} else if ok {
			d.Extents = append(d.Extents, ext)
			continue
		}

		key, value, ok := parseKeyValueLine(line)
		if !ok {
			continue
		}
		if inDDB {
			d.DDB[key] = value
		} else {
			d.Attr[key] = value
		}
	}

	return d, nil
}

var extentAccessModes = []string{"RW", "RDONLY", "NOACCESS"}

func parseExtentLine(line string) (ExtentDescriptor, bool, error) {
	for _, mode := range extentAccessModes {
		if !strings.HasPrefix(line, mode+" ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return ExtentDescriptor{}, false, fmt.Errorf("vmdk: malformed extent line: %q", line)
		}
		sectors, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return ExtentDescriptor{}, false, fmt.Errorf("vmdk: bad extent sector count in %q: %w", line, err)
		}

		// The filename is the first double-quoted token; an optional
		// trailing offset (FLAT extents) follows it.
		rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]+" "+fields[1]+" "+fields[2]+" "))
		filename, tail, err := takeQuoted(rest)
		if err != nil {
			return ExtentDescriptor{}, false, fmt.Errorf("vmdk: bad extent filename in %q: %w", line, err)
		}

		ext := ExtentDescriptor{
			AccessMode: fields[0],
			Sectors:    sectors,
			Type:       fields[2],
			Filename:   filename,
		}
		tail = strings.TrimSpace(tail)
		if tail != "" {
			off, err := strconv.ParseUint(tail, 10, 64)
			if err != nil {
				return ExtentDescriptor{}, false, fmt.Errorf("vmdk: bad extent offset in %q: %w", line, err)
			}
			ext.Offset = off
		}
		return ext, true, nil
	}
	return ExtentDescriptor{}, false, nil
}

func takeQuoted(s string) (value string, rest string, err error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, `"`) {
		return "", "", fmt.Errorf("expected quoted token in %q", s)
	}
	end := strings.Index(s[1:], `"`)
	if end < 0 {
		return "", "", fmt.Errorf("unterminated quoted token in %q", s)
	}
	return s[1 : end+1], s[end+2:], nil
}

func parseKeyValueLine(line string) (key, value string, ok bool) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	key = strings.TrimSpace(parts[0])
	value = strings.TrimSpace(parts[1])
	value = strings.Trim(value, `"`)
	return key, value, true
}
