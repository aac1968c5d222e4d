package container

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"

	"github.com/beevik/etree"
)

const (
	SHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	SHA384 = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	SHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"
)

func newHash(algorithm string) (hash.Hash, bool) {
	switch algorithm {
	case SHA256:
		return sha256.New(), true
	case SHA384:
		return sha512.New384(), true
	case SHA512:
		return sha512.New(), true
	}
	return nil, false
}

type reference struct {
	algorithm string
	digest    []byte
}

// parseManifest reads the DataObjectReference elements of an ASiC manifest,
// keyed by URI.
func parseManifest(data []byte) (map[string]reference, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "ASiCManifest" {
		return nil, fmt.Errorf("parse manifest: unexpected root element")
	}

	refs := make(map[string]reference)
	for _, el := range descendants(root, "DataObjectReference") {
		uri := el.SelectAttrValue("URI", "")
		if uri == "" {
			return nil, fmt.Errorf("parse manifest: data object without URI")
		}
		var ref reference
		if m := first(el, "DigestMethod"); m != nil {
			ref.algorithm = m.SelectAttrValue("Algorithm", "")
		}
		if v := first(el, "DigestValue"); v != nil {
			digest, err := base64.StdEncoding.DecodeString(v.Text())
			if err != nil {
				return nil, fmt.Errorf("parse manifest: digest for %s: %w", uri, err)
			}
			ref.digest = digest
		}
		refs[uri] = ref
	}
	return refs, nil
}

// descendants matches on the local tag name so any namespace prefix works.
func descendants(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			out = append(out, c)
		}
		out = append(out, descendants(c, tag)...)
	}
	return out
}

func first(el *etree.Element, tag string) *etree.Element {
	if found := descendants(el, tag); len(found) > 0 {
		return found[0]
	}
	return nil
}

// checker hashes one entry stream against its manifest reference.
type checker struct {
	ref reference
	h   hash.Hash
}

func newChecker(refs map[string]reference, name string) *checker {
	ref, ok := refs[name]
	if !ok {
		return nil
	}
	h, ok := newHash(ref.algorithm)
	if !ok {
		return &checker{ref: ref}
	}
	return &checker{ref: ref, h: h}
}

func (c *checker) Write(p []byte) (int, error) {
	if c.h != nil {
		c.h.Write(p)
	}
	return len(p), nil
}

func (c *checker) ok() bool {
	return c.h != nil && bytes.Equal(c.h.Sum(nil), c.ref.digest)
}
