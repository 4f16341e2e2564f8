package ctxbin

import (
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// File is a validated context binary. Data is either a read-only mapping
// of the file or a heap copy.
type File struct {
	Data     []byte
	Header   *Header
	Sections []Section
	release  func([]byte) error
}

// Open maps path read-only and validates it, falling back to a full read
// when mmap fails. Close releases the mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < headerSize || st.Size() > math.MaxInt {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrCorruptFile, path, st.Size())
	}

	if data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED); err == nil {
		cf, perr := parse(data)
		if perr != nil {
			_ = unix.Munmap(data)
			return nil, perr
		}
		cf.release = unix.Munmap
		return cf, nil
	}
	return OpenReaderAt(f, st.Size())
}

// OpenReaderAt copies size bytes from r and validates them.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > math.MaxInt {
		return nil, ErrCorruptFile
	}
	data := make([]byte, size)
	n, err := r.ReadAt(data, 0)
	if n < len(data) {
		if err == nil || err == io.EOF {
			err = fmt.Errorf("%w: short read %d of %d bytes", ErrCorruptFile, n, len(data))
		}
		return nil, err
	}
	return parse(data)
}

// OpenBytes validates data in place. The slice is retained.
func OpenBytes(data []byte) (*File, error) {
	return parse(data)
}

func parse(data []byte) (*File, error) {
	hdr, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	dir, err := readDirectory(data, hdr)
	if err != nil {
		return nil, err
	}
	return &File{Data: data, Header: &hdr, Sections: dir}, nil
}

func readHeader(data []byte) (Header, error) {
	hdr, ok := decodeHeader(data)
	switch {
	case !ok:
		return hdr, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptFile, len(data))
	case !hdr.Valid():
		return hdr, ErrInvalidMagic
	case !hdr.Compatible():
		return hdr, fmt.Errorf("%w: %d", ErrUnsupportedMajor, hdr.Major)
	case hdr.FileSize != uint64(len(data)):
		return hdr, fmt.Errorf("%w: file size %d, header says %d", ErrCorruptFile, len(data), hdr.FileSize)
	case uint64(hdr.HeaderSize) > hdr.FileSize:
		return hdr, fmt.Errorf("%w: header size %d", ErrCorruptFile, hdr.HeaderSize)
	}
	return hdr, nil
}

func readDirectory(data []byte, hdr Header) ([]Section, error) {
	start := hdr.SectionDirOffset
	end := start + uint64(hdr.SectionCount)*sectionSize
	if start < uint64(hdr.HeaderSize) || end < start || end > hdr.FileSize {
		return nil, fmt.Errorf("%w: section directory out of bounds", ErrCorruptFile)
	}

	dir := make([]Section, hdr.SectionCount)
	for i := range dir {
		off := start + uint64(i)*sectionSize
		s, _ := decodeSection(data[off : off+sectionSize])
		if err := checkSection(s, hdr, start, end); err != nil {
			return nil, fmt.Errorf("%w: section %d (%s) %s", ErrCorruptFile, i, SectionType(s.Type), err)
		}
		dir[i] = s
	}
	return dir, nil
}

type sectionProblem string

func (p sectionProblem) Error() string { return string(p) }

func checkSection(s Section, hdr Header, dirStart, dirEnd uint64) error {
	end := s.End()
	switch {
	case end < s.Offset:
		return sectionProblem("offset overflows")
	case end > hdr.FileSize:
		return sectionProblem("extends past end of file")
	case s.Offset < uint64(hdr.HeaderSize):
		return sectionProblem("overlaps header")
	case rangesOverlap(s.Offset, end, dirStart, dirEnd):
		return sectionProblem("overlaps section directory")
	case s.Offset%align != 0:
		return sectionProblem("is not 8-byte aligned")
	}
	return nil
}

// Close releases the mapping, if any. The File must not be used afterwards.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.release != nil && f.Data != nil {
		err = f.release(f.Data)
	}
	*f = File{}
	return err
}

// Section returns the first directory entry of type t, or nil.
func (f *File) Section(t SectionType) *Section {
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns the payload of s without copying. It is invalid
// after Close.
func (f *File) SectionData(s *Section) []byte {
	if f == nil || s == nil || s.End() > uint64(len(f.Data)) || s.End() < s.Offset {
		return nil
	}
	return f.Data[s.Offset:s.End()]
}

// Payload returns the payload of the section of type t.
func (f *File) Payload(t SectionType) ([]byte, error) {
	s := f.Section(t)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, t)
	}
	return f.SectionData(s), nil
}
