package ntfs

import "fmt"

// Stream is one named data stream of a node (spec.md §3 "Stream").
type Stream struct {
	Name             string
	Resident         bool
	RealSize         uint64
	Compressed       bool
	CompressUnitSize uint16
	CompressSize     uint64
	Sparse           bool
	InlineData       []byte
	DataRun          *DataRun
}

// Node is one file-or-directory entry in the tree (C11), built from an MFT
// record's FileName and Data attributes.
type Node struct {
	MftRef         uint64
	IsDir          bool
	ParentRef      uint64
	Name           string
	ShortName      string
	FileAttributes uint32
	Streams        map[string]*Stream
}

// Folder is the ordered set of children directly under a directory node,
// keyed by every name that resolves to them (both long and short names, per
// spec.md §4.9 path resolution: "matching against either name or
// shortname").
type Folder struct {
	Children map[string]uint64 // name -> child MftRef
	Order    []uint64          // insertion order, de-duplicated, for stable listing
}

// Tree is the full folder/node/stream graph built by a whole-volume MFT
// scan (C11).
type Tree struct {
	Nodes   map[uint64]*Node
	Folders map[uint64]*Folder // directory MftRef -> its children
}

// reservedMftIndexCount is the number of low MFT indices reserved for NTFS
// metadata files ($MFT, $MFTMirr, $LogFile, ..., $Extend); scanning starts
// at 16 (spec.md §4.7).
const reservedMftIndexCount = 16

// RootMftIndex is the MFT index of the volume's root directory, its own
// anchor (spec.md §3 invariants).
const RootMftIndex = 5

// BuildTree performs the full-volume MFT scan (spec.md §4.7): for each
// index from 16 up to the record count implied by mftSize, skip records
// failing magic, fixup, or the in-use|directory mask, decode the survivors,
// and link every non-root node under its parent's folder.
func BuildTree(mft *MftReader) (*Tree, error) {
	t := &Tree{
		Nodes:   make(map[uint64]*Node),
		Folders: make(map[uint64]*Folder),
	}

	recordCount := uint64(mft.MftSize() / mft.RecordSize())

	// The root directory is created eagerly so the tree always has key 5,
	// even if record 5's own FileName attribute is somehow unreadable.
	t.Folders[RootMftIndex] = &Folder{Children: make(map[string]uint64)}

	for idx := uint64(reservedMftIndexCount); idx < recordCount; idx++ {
		rec, err := mft.ReadFileRecord(idx)
		if err != nil {
			continue
		}
		if !rec.InUse() {
			continue
		}

		node, err := decodeNode(mft, rec, idx)
		if err != nil {
			continue
		}
		if node.IsDir {
			if _, ok := t.Folders[idx]; !ok {
				t.Folders[idx] = &Folder{Children: make(map[string]uint64)}
			}
		}
		t.Nodes[idx] = node

		if idx < reservedMftIndexCount || idx == RootMftIndex || node.ParentRef == 0 {
			continue
		}
		parentFolder, ok := t.Folders[node.ParentRef]
		if !ok {
			parentFolder = &Folder{Children: make(map[string]uint64)}
			t.Folders[node.ParentRef] = parentFolder
		}
		linkChild(parentFolder, node, idx)
	}

	return t, nil
}

func linkChild(folder *Folder, node *Node, mftRef uint64) {
	if _, seen := folder.Children[node.Name]; !seen && node.Name != "" {
		folder.Order = append(folder.Order, mftRef)
	}
	if node.Name != "" {
		folder.Children[node.Name] = mftRef
	}
	if node.ShortName != "" && node.ShortName != node.Name {
		folder.Children[node.ShortName] = mftRef
	}
}

const (
	fileNameTypeWritesName      = 0x1
	fileNameTypeWritesShortName = 0x2
)

// decodeNode is the AttributeDecoder (C10) applied to a single record: it
// walks the attribute stream, classifying attributes as resident or
// non-resident, and resolves a fragmented $ATTRIBUTE_LIST with a hard
// nesting cap of depth 2 (spec.md §4.7 "AttributeDecoder policy", §9
// "$ATTRIBUTE_LIST recursion").
func decodeNode(mft *MftReader, rec *Record, mftIndex uint64) (*Node, error) {
	node := &Node{
		MftRef:  mftIndex,
		IsDir:   rec.IsDirectory(),
		Streams: make(map[string]*Stream),
	}

	attrs, err := rec.attributes()
	if err != nil {
		return nil, err
	}

	var listEntries []attributeListEntry
	for _, h := range attrs {
		switch h.Type {
		case AttrFileName:
			if h.NonResident {
				return nil, fmt.Errorf("ntfs: non-resident FileName attribute on record %d is invalid", mftIndex)
			}
			fn, err := parseFileName(h.residentValue(rec.buf))
			if err != nil {
				return nil, err
			}
			node.ParentRef = fn.ParentRef
			node.FileAttributes = fn.FileAttributes
			applyFileName(node, fn)

		case AttrData:
			if err := decodeDataAttribute(node, h, rec.buf, nil); err != nil {
				return nil, err
			}

		case AttrAttributeList:
			if h.NonResident {
				return nil, fmt.Errorf("ntfs: non-resident $ATTRIBUTE_LIST on record %d is unsupported", mftIndex)
			}
			listEntries, err = parseAttributeList(h.residentValue(rec.buf))
			if err != nil {
				return nil, err
			}
		}
	}

	for _, entry := range listEntries {
		if entry.FileReferenceNumber == 0 {
			continue // the record already processed above
		}
		if entry.Type != AttrData && entry.Type != AttrFileName {
			continue
		}
		fragRec, err := mft.ReadFileRecord(entry.FileReferenceNumber)
		if err != nil {
			return nil, err
		}
		fragAttrs, err := fragRec.attributes()
		if err != nil {
			return nil, err
		}
		for _, h := range fragAttrs {
			if h.Type != entry.Type {
				continue
			}
			switch h.Type {
			case AttrData:
				if err := decodeDataAttribute(node, h, fragRec.buf, &entry); err != nil {
					return nil, err
				}
			case AttrFileName:
				if h.NonResident {
					return nil, fmt.Errorf("ntfs: non-resident FileName fragment on record %d is invalid", mftIndex)
				}
				fn, err := parseFileName(h.residentValue(fragRec.buf))
				if err != nil {
					return nil, err
				}
				if node.ParentRef == 0 {
					node.ParentRef = fn.ParentRef
				}
				applyFileName(node, fn)
			}
		}
	}

	return node, nil
}

func applyFileName(node *Node, fn *fileNameAttr) {
	if fn.NameType&fileNameTypeWritesName != 0 {
		node.Name = fn.Name
	}
	if fn.NameType&fileNameTypeWritesShortName != 0 {
		node.ShortName = fn.Name
	}
}

// decodeDataAttribute builds or extends the Stream for one $DATA attribute.
// When entry is non-nil, this attribute arrived via an $ATTRIBUTE_LIST
// fragment and its runs are appended to the already-captured stream's data
// run (spec.md §4.7 "Data:" policy).
func decodeDataAttribute(node *Node, h *attrHeader, buf []byte, entry *attributeListEntry) error {
	name := decodeAttrName(h, buf)

	existing, have := node.Streams[name]
	if entry != nil {
		if !have {
			return fmt.Errorf("ntfs: attribute list fragment for stream %q arrived before its base attribute", name)
		}
		if err := existing.DataRun.Append(h.runListBytes(buf), h.StartVcn); err != nil {
			return err
		}
		for _, r := range existing.DataRun.runs {
			if r.sparse {
				existing.Sparse = true
			}
		}
		return nil
	}

	if have {
		if existing.Resident != !h.NonResident {
			return fmt.Errorf("ntfs: stream %q residency mismatch between $DATA attributes", name)
		}
		// A second top-level $DATA attribute with the same name and
		// matching residency is accepted as it is: its value or run list
		// is not compared with the stream already captured, which stays
		// unchanged. Runs are appended only for attributes reached
		// through the attribute list (entry != nil, handled above).
		return nil
	}

	s := &Stream{Name: name, Resident: !h.NonResident}
	if !h.NonResident {
		s.RealSize = uint64(h.ValueLength)
		s.InlineData = append([]byte(nil), h.residentValue(buf)...)
	} else {
		s.RealSize = h.RealSize
		s.Compressed = h.Flags&attrFlagCompressed != 0
		s.CompressUnitSize = h.CompressionUnitSize
		s.CompressSize = h.CompressSize
		s.Sparse = h.AllocatedSize < h.RealSize
		dr, err := Init(h.runListBytes(buf), h.StartVcn)
		if err != nil {
			return err
		}
		s.DataRun = dr
		for _, r := range dr.runs {
			if r.sparse {
				s.Sparse = true
			}
		}
	}
	node.Streams[name] = s
	return nil
}

func decodeAttrName(h *attrHeader, buf []byte) string {
	if h.NameLength == 0 {
		return ""
	}
	start := h.offset + int(h.NameOffset)
	end := start + int(h.NameLength)*2
	return DecodeUTF16LE(buf[start:end])
}
