package archive

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cuemby/embassyd/pkg/embassyerr"
	"github.com/klauspost/compress/zstd"
)

// magic identifies an s9pk archive. Anything else at offset 0 is not
// one of ours.
var magic = [4]byte{'s', '9', 'p', 'k'}

// SectionID names one of the five logical sections an archive carries.
type SectionID uint8

const (
	SectionManifest SectionID = iota
	SectionLicense
	SectionIcon
	SectionDockerImages
	SectionInstructions
)

var sectionNames = map[SectionID]string{
	SectionManifest:      "manifest",
	SectionLicense:       "license",
	SectionIcon:          "icon",
	SectionDockerImages:  "docker_images",
	SectionInstructions:  "instructions",
}

type tocEntry struct {
	offset int64
	length int64
}

// Reader parses an s9pk's header and table of contents on FromReader,
// and validates the declared hash exactly once when Validate is called.
type Reader struct {
	r            io.ReaderAt
	size         int64
	declaredHash string // hex sha256, from the header
	toc          map[SectionID]tocEntry
	validated    bool
}

// header layout: 4-byte magic, 32-byte sha256, 2-byte section count,
// then count * (1-byte id, 8-byte offset, 8-byte length).
const headerFixedLen = 4 + 32 + 2

// FromReader parses the header and table of contents of an s9pk. It
// does not read section bodies or verify the declared hash; call
// Validate for that.
func FromReader(r io.ReaderAt, size int64) (*Reader, error) {
	if size < headerFixedLen {
		return nil, embassyerr.New(embassyerr.KindInvalidArchive, "archive shorter than header", nil)
	}

	hdr := make([]byte, headerFixedLen)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, embassyerr.New(embassyerr.KindIo, "reading archive header", err)
	}

	if string(hdr[0:4]) != string(magic[:]) {
		return nil, embassyerr.New(embassyerr.KindInvalidArchive, "bad magic", nil)
	}

	declaredHash := hex.EncodeToString(hdr[4:36])
	count := binary.BigEndian.Uint16(hdr[36:38])

	tocLen := int64(count) * 17
	tocBytes := make([]byte, tocLen)
	if _, err := r.ReadAt(tocBytes, headerFixedLen); err != nil {
		return nil, embassyerr.New(embassyerr.KindIo, "reading table of contents", err)
	}

	toc := make(map[SectionID]tocEntry, count)
	for i := 0; i < int(count); i++ {
		b := tocBytes[i*17 : i*17+17]
		id := SectionID(b[0])
		offset := int64(binary.BigEndian.Uint64(b[1:9]))
		length := int64(binary.BigEndian.Uint64(b[9:17]))
		if offset < 0 || length < 0 || offset+length > size {
			return nil, embassyerr.New(embassyerr.KindInvalidArchive,
				fmt.Sprintf("section %s out of bounds", sectionNames[id]), nil)
		}
		toc[id] = tocEntry{offset: offset, length: length}
	}

	return &Reader{r: r, size: size, declaredHash: declaredHash, toc: toc}, nil
}

// Validate streams the archive's canonical content range (everything
// after the declared hash field) through SHA-256 and compares it to the
// header's declared hash. It is safe to call more than once; once a
// call has succeeded, later calls return nil without hashing again.
func (a *Reader) Validate() error {
	if a.validated {
		return nil
	}

	h := sha256.New()
	// The hash covers everything from the end of the hash field onward:
	// section-count, table of contents and all section bodies.
	const start = 4 + 32
	if _, err := io.Copy(h, io.NewSectionReader(a.r, start, a.size-start)); err != nil {
		return embassyerr.New(embassyerr.KindIo, "hashing archive content", err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != a.declaredHash {
		return embassyerr.New(embassyerr.KindHashMismatch,
			fmt.Sprintf("declared %s, computed %s", a.declaredHash, got), nil)
	}

	a.validated = true
	return nil
}

// HashStr returns the archive's declared hash in lowercase hex, for
// comparison against a transport's x-s9pk-hash header.
func (a *Reader) HashStr() string { return a.declaredHash }

func (a *Reader) section(id SectionID) (*io.SectionReader, error) {
	e, ok := a.toc[id]
	if !ok {
		return nil, embassyerr.New(embassyerr.KindSectionMissing, sectionNames[id], nil)
	}
	return io.NewSectionReader(a.r, e.offset, e.length), nil
}

// Manifest returns a bounded reader over the raw manifest section.
func (a *Reader) Manifest() (io.Reader, error) { return a.section(SectionManifest) }

// License returns a bounded reader over the raw license section.
func (a *Reader) License() (io.Reader, error) { return a.section(SectionLicense) }

// Icon returns a bounded reader over the raw icon section.
func (a *Reader) Icon() (io.Reader, error) { return a.section(SectionIcon) }

// DockerImages returns a zstd-decompressing reader over the
// docker_images section, suitable for piping straight into the
// container runtime's image loader.
func (a *Reader) DockerImages() (io.ReadCloser, error) {
	return a.zstdSection(SectionDockerImages)
}

// Instructions returns a zstd-decompressing reader over the optional
// instructions section.
func (a *Reader) Instructions() (io.ReadCloser, error) {
	return a.zstdSection(SectionInstructions)
}

// HasInstructions reports whether this archive declares an
// instructions section at all (it is optional).
func (a *Reader) HasInstructions() bool {
	_, ok := a.toc[SectionInstructions]
	return ok
}

type zstdReadCloser struct {
	dec *zstd.Decoder
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }
func (z *zstdReadCloser) Close() error                { z.dec.Close(); return nil }

func (a *Reader) zstdSection(id SectionID) (io.ReadCloser, error) {
	sr, err := a.section(id)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(sr)
	if err != nil {
		return nil, embassyerr.New(embassyerr.KindInvalidArchive, "opening zstd frame", err)
	}
	return &zstdReadCloser{dec: dec}, nil
}
