// Package container reads and writes ASiC-E containers: zip archives with a
// leading mimetype entry, an ODF manifest and an optional ASiC manifest that
// lists a digest for each data object.
package container

import (
	"errors"
	"strings"
)

const (
	// MimeType is stored uncompressed as the first archive entry.
	MimeType = "application/vnd.etsi.asic-e+zip"

	// DefaultLimit caps both the packed and the unpacked size of a container.
	DefaultLimit int64 = 32 << 20

	metaDir       = "META-INF/"
	mimetypeEntry = "mimetype"
	odfManifest   = metaDir + "manifest.xml"
	asicManifest  = metaDir + "ASiCManifest.xml"
)

var (
	// ErrCorrupt marks an archive or entry stream that cannot be decoded.
	ErrCorrupt = errors.New("container: corrupt archive")
	// ErrTooLarge is returned when the packed or unpacked data exceeds the limit.
	ErrTooLarge = errors.New("container: size limit exceeded")
)

// DigestStatus summarizes manifest digest checks over one container walk.
type DigestStatus int

const (
	DigestAllValid DigestStatus = iota
	DigestInvalid
)

func (s DigestStatus) String() string {
	if s == DigestAllValid {
		return "all-valid"
	}
	return "invalid"
}

func isMeta(name string) bool {
	return name == mimetypeEntry || strings.HasPrefix(name, metaDir)
}

func isASiCManifest(name string) bool {
	if !strings.HasPrefix(name, metaDir) {
		return false
	}
	lower := strings.ToLower(strings.TrimPrefix(name, metaDir))
	return strings.Contains(lower, "asicmanifest") && strings.HasSuffix(lower, ".xml")
}
