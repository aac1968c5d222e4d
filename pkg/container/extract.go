package container

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Entry is one data object of a container. The reader is only valid inside
// the visitor call it was passed to.
type Entry struct {
	Name string
	io.Reader
}

// Extract walks the data objects of the container read from r and calls visit
// once per entry, in archive order. META-INF entries and the mimetype entry
// are not visited. Each entry stream is drained and closed before the next is
// opened, and all of them are closed when Extract returns.
//
// A visitor error stops the walk and is returned unchanged. Decoding failures
// wrap ErrCorrupt; data beyond limit wraps ErrTooLarge. A limit of zero or less
// uses DefaultLimit.
func Extract(r io.Reader, limit int64, visit func(Entry) error) (DigestStatus, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return DigestInvalid, fmt.Errorf("container: read: %w", err)
	}
	if int64(len(raw)) > limit {
		return DigestInvalid, ErrTooLarge
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return DigestInvalid, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	refs, status := loadManifest(zr, limit)
	budget := &budget{left: limit}
	for _, f := range zr.File {
		if isMeta(f.Name) || strings.HasSuffix(f.Name, "/") {
			continue
		}
		var chk *checker
		if refs != nil {
			chk = newChecker(refs, f.Name)
			if chk == nil {
				status = DigestInvalid
			}
			delete(refs, f.Name)
		}
		if err := visitEntry(f, budget, chk, visit); err != nil {
			return DigestInvalid, err
		}
		if chk != nil && !chk.ok() {
			status = DigestInvalid
		}
	}
	// Referenced objects missing from the archive.
	if len(refs) > 0 {
		status = DigestInvalid
	}
	return status, nil
}

func visitEntry(f *zip.File, b *budget, chk *checker, visit func(Entry) error) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrCorrupt, f.Name, err)
	}
	defer rc.Close()

	b.r = rc
	var src io.Reader = &entryReader{name: f.Name, r: b}
	if chk != nil {
		src = io.TeeReader(src, chk)
	}
	if err := visit(Entry{Name: f.Name, Reader: src}); err != nil {
		return err
	}
	if _, err := io.Copy(io.Discard, src); err != nil {
		return err
	}
	return nil
}

// loadManifest returns nil when the container has no ASiC manifest. A
// manifest that cannot be read makes the whole container invalid.
func loadManifest(zr *zip.Reader, limit int64) (map[string]reference, DigestStatus) {
	for _, f := range zr.File {
		if !isASiCManifest(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return map[string]reference{}, DigestInvalid
		}
		data, err := io.ReadAll(io.LimitReader(rc, limit))
		rc.Close()
		if err != nil {
			return map[string]reference{}, DigestInvalid
		}
		refs, err := parseManifest(data)
		if err != nil {
			return map[string]reference{}, DigestInvalid
		}
		return refs, DigestAllValid
	}
	return nil, DigestAllValid
}

// budget caps the total number of decompressed bytes over one walk.
type budget struct {
	r    io.Reader
	left int64
}

func (b *budget) Read(p []byte) (int, error) {
	if int64(len(p)) > b.left+1 {
		p = p[:b.left+1]
	}
	n, err := b.r.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

// entryReader tags decode errors with ErrCorrupt and the entry name.
type entryReader struct {
	name string
	r    io.Reader
}

func (e *entryReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF && !errors.Is(err, ErrTooLarge) {
		err = fmt.Errorf("%w: %s: %v", ErrCorrupt, e.name, err)
	}
	return n, err
}
