package formats

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/cockroachdb/errors"
)

// TIFF field types.
const (
	tiffByte      = 1
	tiffASCII     = 2
	tiffShort     = 3
	tiffLong      = 4
	tiffRational  = 5
	tiffSByte     = 6
	tiffUndefined = 7
	tiffSShort    = 8
	tiffSLong     = 9
	tiffSRational = 10
	tiffFloat     = 11
	tiffDouble    = 12
	tiffLong8     = 16
	tiffSLong8    = 17
	tiffIFD8      = 18
)

// maxTagBytes bounds the payload read for a single tag.
const maxTagBytes = 1 << 20

var tiffTypeSize = map[uint16]int{
	tiffByte: 1, tiffASCII: 1, tiffShort: 2, tiffLong: 4, tiffRational: 8,
	tiffSByte: 1, tiffUndefined: 1, tiffSShort: 2, tiffSLong: 4, tiffSRational: 8,
	tiffFloat: 4, tiffDouble: 8, tiffLong8: 8, tiffSLong8: 8, tiffIFD8: 8,
}

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
}

// tiffIFD is the decoded first image file directory of a classic or BigTIFF file.
type tiffIFD struct {
	order   binary.ByteOrder
	entries map[uint16]tiffEntry
}

func readTIFF(r io.ReaderAt) (*tiffIFD, error) {
	head := make([]byte, 16)
	if n, err := r.ReadAt(head, 0); n < 8 {
		return nil, errors.Wrap(errOrEOF(err), "tiff header")
	}

	var order binary.ByteOrder
	switch string(head[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errors.Newf("bad byte order mark %q", head[:2])
	}

	big := false
	var offset uint64
	switch order.Uint16(head[2:4]) {
	case 42:
		offset = uint64(order.Uint32(head[4:8]))
	case 43:
		if order.Uint16(head[4:6]) != 8 {
			return nil, errors.New("bigtiff with unexpected offset size")
		}
		big = true
		offset = order.Uint64(head[8:16])
	default:
		return nil, errors.Newf("bad tiff version %d", order.Uint16(head[2:4]))
	}

	countSize, entrySize, inline := 2, 12, 4
	if big {
		countSize, entrySize, inline = 8, 20, 8
	}

	buf := make([]byte, countSize)
	if _, err := r.ReadAt(buf, int64(offset)); err != nil {
		return nil, errors.Wrap(err, "ifd entry count")
	}
	var count uint64
	if big {
		count = order.Uint64(buf)
	} else {
		count = uint64(order.Uint16(buf))
	}
	if count == 0 || count > 4096 {
		return nil, errors.Newf("implausible ifd entry count %d", count)
	}

	raw := make([]byte, int(count)*entrySize)
	if _, err := r.ReadAt(raw, int64(offset)+int64(countSize)); err != nil {
		return nil, errors.Wrap(err, "ifd entries")
	}

	ifd := &tiffIFD{order: order, entries: make(map[uint16]tiffEntry, count)}
	for i := 0; i < int(count); i++ {
		e := raw[i*entrySize : (i+1)*entrySize]
		entry := tiffEntry{tag: order.Uint16(e[0:2]), typ: order.Uint16(e[2:4])}
		var value []byte
		if big {
			entry.count = order.Uint64(e[4:12])
			value = e[12:20]
		} else {
			entry.count = uint64(order.Uint32(e[4:8]))
			value = e[8:12]
		}

		size, ok := tiffTypeSize[entry.typ]
		if !ok {
			continue
		}
		total := entry.count * uint64(size)
		if total > maxTagBytes {
			continue
		}
		if total <= uint64(inline) {
			entry.data = value[:total]
		} else {
			var at uint64
			if big {
				at = order.Uint64(value)
			} else {
				at = uint64(order.Uint32(value))
			}
			entry.data = make([]byte, total)
			if _, err := r.ReadAt(entry.data, int64(at)); err != nil {
				return nil, errors.Wrapf(err, "tag %d payload", entry.tag)
			}
		}
		ifd.entries[entry.tag] = entry
	}
	return ifd, nil
}

// uint returns the first value of an integer tag.
func (d *tiffIFD) uint(tag uint16) (uint64, bool) {
	e, ok := d.entries[tag]
	if !ok || len(e.data) == 0 {
		return 0, false
	}
	switch e.typ {
	case tiffByte, tiffUndefined:
		return uint64(e.data[0]), true
	case tiffShort:
		return uint64(d.order.Uint16(e.data)), true
	case tiffLong:
		return uint64(d.order.Uint32(e.data)), true
	case tiffLong8, tiffIFD8:
		return d.order.Uint64(e.data), true
	}
	return 0, false
}

func (d *tiffIFD) shorts(tag uint16) []uint16 {
	e, ok := d.entries[tag]
	if !ok || e.typ != tiffShort {
		return nil
	}
	out := make([]uint16, len(e.data)/2)
	for i := range out {
		out[i] = d.order.Uint16(e.data[2*i:])
	}
	return out
}

func (d *tiffIFD) doubles(tag uint16) []float64 {
	e, ok := d.entries[tag]
	if !ok || e.typ != tiffDouble {
		return nil
	}
	out := make([]float64, len(e.data)/8)
	for i := range out {
		out[i] = math.Float64frombits(d.order.Uint64(e.data[8*i:]))
	}
	return out
}

func (d *tiffIFD) ascii(tag uint16) string {
	e, ok := d.entries[tag]
	if !ok || e.typ != tiffASCII {
		return ""
	}
	s := string(e.data)
	for len(s) > 0 && (s[len(s)-1] == 0 || s[len(s)-1] == '|') {
		s = s[:len(s)-1]
	}
	return s
}

func errOrEOF(err error) error {
	if err == nil {
		return io.ErrUnexpectedEOF
	}
	return err
}
