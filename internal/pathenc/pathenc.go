// Package pathenc maps logical repository paths to archive entry names.
//
// Each slash separated segment is escaped on its own, so the directory
// structure of the input survives. Reserved bytes become %XX. Because '%'
// itself is always escaped, Decode(Encode(p)) == p for every p, which makes
// Encode injective.
package pathenc

import (
	"fmt"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// reserved reports whether b cannot appear literally in an entry name segment.
func reserved(b byte) bool {
	if b < 0x20 || b == 0x7f {
		return true
	}
	switch b {
	case '%', '\\', ':', '*', '?', '"', '<', '>', '|':
		return true
	}
	return false
}

// Encode returns the archive-safe form of path.
func Encode(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = encodeSegment(seg)
	}
	return strings.Join(segments, "/")
}

func encodeSegment(seg string) string {
	// "." and ".." would be collapsed by extractors.
	if seg == "." || seg == ".." {
		return strings.Repeat("%2E", len(seg))
	}

	n := 0
	for i := 0; i < len(seg); i++ {
		if reserved(seg[i]) {
			n++
		}
	}
	if n == 0 {
		return seg
	}

	var b strings.Builder
	b.Grow(len(seg) + 2*n)
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if reserved(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0x0f])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Decode reverses Encode.
func Decode(name string) (string, error) {
	if !strings.Contains(name, "%") {
		return name, nil
	}

	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(name) {
			return "", fmt.Errorf("truncated escape at offset %d in %q", i, name)
		}
		hi, ok1 := unhex(name[i+1])
		lo, ok2 := unhex(name[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("invalid escape %q in %q", name[i:i+3], name)
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
