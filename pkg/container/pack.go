package container

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
)

const (
	asicNS     = "http://uri.etsi.org/02918/v1.2.1#"
	dsigNS     = "http://www.w3.org/2000/09/xmldsig#"
	manifestNS = "urn:oasis:names:tc:opendocument:xmlns:manifest:1.0"
)

// File is a data object to pack.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Pack builds an ASiC-E container holding files, with both manifests. Every
// data object gets a SHA-256 digest in the ASiC manifest.
func Pack(files ...File) ([]byte, error) {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		switch {
		case f.Name == "":
			return nil, fmt.Errorf("container: pack: empty file name")
		case isMeta(f.Name):
			return nil, fmt.Errorf("container: pack: reserved name %q", f.Name)
		case seen[f.Name]:
			return nil, fmt.Errorf("container: pack: duplicate name %q", f.Name)
		}
		seen[f.Name] = true
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.CreateHeader(&zip.FileHeader{Name: mimetypeEntry, Method: zip.Store})
	if err != nil {
		return nil, fmt.Errorf("container: pack: %w", err)
	}
	if _, err := w.Write([]byte(MimeType)); err != nil {
		return nil, fmt.Errorf("container: pack: %w", err)
	}

	for _, f := range files {
		if err := writeEntry(zw, f.Name, f.Data); err != nil {
			return nil, err
		}
	}

	odf, err := odfManifestXML(files)
	if err != nil {
		return nil, err
	}
	if err := writeEntry(zw, odfManifest, odf); err != nil {
		return nil, err
	}
	asic, err := asicManifestXML(files)
	if err != nil {
		return nil, err
	}
	if err := writeEntry(zw, asicManifest, asic); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("container: pack: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("container: pack %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("container: pack %s: %w", name, err)
	}
	return nil
}

func odfManifestXML(files []File) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("manifest:manifest")
	root.CreateAttr("xmlns:manifest", manifestNS)

	entry := root.CreateElement("manifest:file-entry")
	entry.CreateAttr("manifest:full-path", "/")
	entry.CreateAttr("manifest:media-type", MimeType)
	for _, f := range files {
		entry := root.CreateElement("manifest:file-entry")
		entry.CreateAttr("manifest:full-path", f.Name)
		entry.CreateAttr("manifest:media-type", mediaType(f))
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

func asicManifestXML(files []File) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("asic:ASiCManifest")
	root.CreateAttr("xmlns:asic", asicNS)
	root.CreateAttr("xmlns:ds", dsigNS)

	for _, f := range files {
		sum := sha256.Sum256(f.Data)
		ref := root.CreateElement("asic:DataObjectReference")
		ref.CreateAttr("URI", f.Name)
		ref.CreateAttr("MimeType", mediaType(f))
		ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", SHA256)
		ref.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(sum[:]))
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

func mediaType(f File) string {
	if f.MimeType != "" {
		return f.MimeType
	}
	return "application/octet-stream"
}
