package ctxbin

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
)

var errNoSections = errors.New("ctxbin: no sections added")

type pendingSection struct {
	typ     SectionType
	version uint32
	data    []byte
}

// Writer collects section payloads and lays them out on WriteTo:
// header, payloads in section type order, then the section directory.
// Every payload and the directory start on an 8-byte boundary.
type Writer struct {
	sections []pendingSection
	flags    uint64
}

func NewWriter() *Writer {
	return &Writer{}
}

// Add records a section. Each section type may be added once.
func (w *Writer) Add(typ SectionType, version uint32, data []byte) error {
	if w.has(typ) {
		return fmt.Errorf("ctxbin: duplicate %s section", typ)
	}
	w.sections = append(w.sections, pendingSection{typ: typ, version: version, data: data})
	return nil
}

// AddReader buffers r fully and records it as a section.
func (w *Writer) AddReader(typ SectionType, version uint32, r io.Reader) (int64, error) {
	if r == nil {
		return 0, errors.New("ctxbin: nil reader")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), w.Add(typ, version, data)
}

func (w *Writer) SetFlags(flags uint64) { w.flags |= flags }

func (w *Writer) has(typ SectionType) bool {
	return slices.ContainsFunc(w.sections, func(p pendingSection) bool { return p.typ == typ })
}

func alignUp(n uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// layout assigns offsets and returns the header and directory that
// describe the final file.
func (w *Writer) layout() (Header, []Section, error) {
	if len(w.sections) == 0 {
		return Header{}, nil, errNoSections
	}
	slices.SortStableFunc(w.sections, func(a, b pendingSection) int { return cmp.Compare(a.typ, b.typ) })

	dir := make([]Section, len(w.sections))
	off := alignUp(headerSize)
	for i, p := range w.sections {
		dir[i] = Section{Type: uint32(p.typ), Version: p.version, Offset: off, Size: uint64(len(p.data))}
		off = alignUp(dir[i].End())
	}

	hdr := Header{
		Major:            CurrentMajor,
		Minor:            CurrentMinor,
		HeaderSize:       headerSize,
		SectionCount:     uint32(len(dir)),
		SectionDirOffset: off,
		FileSize:         off + uint64(len(dir))*sectionSize,
		Flags:            w.flags,
	}
	copy(hdr.Magic[:], Magic)
	return hdr, dir, nil
}

// WriteTo serialises the container.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	hdr, dir, err := w.layout()
	if err != nil {
		return 0, err
	}
	cw := &countingWriter{w: dst}

	var hbuf [headerSize]byte
	encodeHeader(hbuf[:], hdr)
	cw.write(hbuf[:])
	for i, p := range w.sections {
		cw.padTo(dir[i].Offset)
		cw.write(p.data)
	}
	cw.padTo(hdr.SectionDirOffset)
	var sbuf [sectionSize]byte
	for _, s := range dir {
		encodeSection(sbuf[:], s)
		cw.write(sbuf[:])
	}
	return cw.n, cw.err
}

// Bytes returns the serialised container.
func (w *Writer) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// countingWriter keeps the first error and ignores later writes.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) write(p []byte) {
	if c.err != nil {
		return
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
}

var zeros [align]byte

func (c *countingWriter) padTo(off uint64) {
	for c.err == nil && uint64(c.n) < off {
		gap := min(off-uint64(c.n), align)
		c.write(zeros[:gap])
	}
}
