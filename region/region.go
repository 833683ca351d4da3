// Package region names the fixed set of message regions a class can scan
// and assembles the slice vector the scanner feeds to the accurate or
// prefilter matcher for a given region kind and parameter.
package region

import "unicode/utf8"

// Kind enumerates the closed set of region kinds a class can be registered
// against. The numeric values are part of the on-disk class identity (they
// feed classid.Class), so existing values must never be renumbered.
type Kind byte

const (
	// KindDecodedHeader scans a header's decoded value, one slice per
	// instance of the header.
	KindDecodedHeader Kind = iota + 1
	// KindRawHeader scans a header's raw (undecoded) value, one slice per
	// instance.
	KindRawHeader
	// KindMimeHeader scans a MIME part header's decoded value, assembled
	// the same way as KindDecodedHeader.
	KindMimeHeader
	// KindAllHeadersRaw scans the single raw block of all headers.
	KindAllHeadersRaw
	// KindMimePartDecoded scans each non-empty MIME part's decoded text.
	KindMimePartDecoded
	// KindMimePartRaw scans each MIME part's raw bytes, forcing raw mode.
	KindMimePartRaw
	// KindURLOrEmail scans the concatenation of the message's URL and
	// email string sets.
	KindURLOrEmail
	// KindFullRawBody scans the entire message in raw mode, one slice.
	KindFullRawBody
	// KindSABody scans the decoded subject followed by HTML-stripped
	// decoded text parts.
	KindSABody
	// KindSARawBody scans each text part's original, un-stripped bytes.
	KindSARawBody
)

var kindNames = map[Kind]string{
	KindDecodedHeader:   "header",
	KindRawHeader:       "rawheader",
	KindMimeHeader:      "mimeheader",
	KindAllHeadersRaw:   "allheader",
	KindMimePartDecoded: "mime",
	KindMimePartRaw:     "rawmime",
	KindURLOrEmail:      "url",
	KindFullRawBody:     "body",
	KindSABody:          "sabody",
	KindSARawBody:       "sarawbody",
}

// String returns the stable external name of k, or "unknown" for an
// out-of-range value.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind parses a region kind name back into a Kind. It reports ok=false
// for an unrecognized name.
func ParseKind(name string) (kind Kind, ok bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// RawMode reports whether matching against this kind operates on raw bytes
// (no UTF-8 validation, no decoding) rather than decoded text.
func (k Kind) RawMode() bool {
	switch k {
	case KindRawHeader, KindAllHeadersRaw, KindMimePartRaw, KindFullRawBody, KindSARawBody:
		return true
	default:
		return false
	}
}

// HeaderInstance is one occurrence of a named header.
type HeaderInstance struct {
	Raw     []byte
	Decoded []byte
}

// MimePart is one MIME body part of a message.
type MimePart struct {
	// Decoded is the part's decoded text, or nil if the part is not text.
	Decoded []byte
	// Raw is the part's original, undecoded bytes.
	Raw []byte
	// Stripped is Decoded with HTML markup removed, used by KindSABody.
	Stripped []byte
}

// Empty reports whether the part carries no text content.
func (p MimePart) Empty() bool { return len(p.Decoded) == 0 }

// MessageView is the external message model the scanner consumes to
// assemble region slices. Its implementation (MIME parsing, header
// extraction, URL/email extraction) is outside this module; MessageView is
// the contract the scanner depends on.
type MessageView interface {
	// Headers returns every instance of the named header, in message
	// order. name is matched exactly as supplied by the caller; canonical
	// casing is the caller's responsibility.
	Headers(name string) []HeaderInstance
	// RawHeaders returns the single raw block of all headers.
	RawHeaders() []byte
	// MimeParts returns the message's MIME body parts in order.
	MimeParts() []MimePart
	// URLs returns the set of URL strings found in the message.
	URLs() []string
	// Emails returns the set of email address strings found in the
	// message.
	Emails() []string
	// Subject returns the decoded Subject header value, or ok=false if the
	// message has none.
	Subject() (decoded []byte, ok bool)
	// FullRaw returns the entire raw message.
	FullRaw() []byte
}

// Assemble builds the slice vector for kind scanned against parameter
// (e.g. a header name), per the external message view. The returned raw
// flag reports whether the vector must be scanned in raw mode.
func Assemble(kind Kind, parameter []byte, view MessageView) (slices [][]byte, raw bool) {
	switch kind {
	case KindDecodedHeader, KindMimeHeader:
		instances := view.Headers(string(parameter))
		out := make([][]byte, 0, len(instances))
		for _, inst := range instances {
			if utf8.Valid(inst.Decoded) {
				out = append(out, inst.Decoded)
			} else {
				out = append(out, nil)
			}
		}
		return out, false

	case KindRawHeader:
		instances := view.Headers(string(parameter))
		out := make([][]byte, 0, len(instances))
		for _, inst := range instances {
			out = append(out, inst.Raw)
		}
		return out, true

	case KindAllHeadersRaw:
		return [][]byte{view.RawHeaders()}, true

	case KindMimePartDecoded:
		parts := view.MimeParts()
		out := make([][]byte, 0, len(parts))
		for _, p := range parts {
			if !p.Empty() {
				out = append(out, p.Decoded)
			}
		}
		return out, false

	case KindMimePartRaw:
		parts := view.MimeParts()
		out := make([][]byte, 0, len(parts))
		for _, p := range parts {
			out = append(out, p.Raw)
		}
		return out, true

	case KindURLOrEmail:
		urls := view.URLs()
		emails := view.Emails()
		out := make([][]byte, 0, len(urls)+len(emails))
		for _, u := range urls {
			out = append(out, []byte(u))
		}
		for _, e := range emails {
			out = append(out, []byte(e))
		}
		return out, false

	case KindFullRawBody:
		return [][]byte{view.FullRaw()}, true

	case KindSABody:
		out := make([][]byte, 0, 1+len(view.MimeParts()))
		if subj, ok := view.Subject(); ok {
			out = append(out, subj)
		} else {
			out = append(out, nil)
		}
		for _, p := range view.MimeParts() {
			if !p.Empty() {
				out = append(out, p.Stripped)
			}
		}
		return out, false

	case KindSARawBody:
		parts := view.MimeParts()
		out := make([][]byte, 0, len(parts))
		for _, p := range parts {
			out = append(out, p.Raw)
		}
		return out, true

	default:
		return nil, false
	}
}

// Clip applies the cache's max-re-data cap to every slice in place,
// shortening (never lengthening) each slice's length. It never touches the
// underlying message bytes, only the slice headers.
func Clip(slices [][]byte, max int) {
	if max <= 0 {
		return
	}
	for i, s := range slices {
		if len(s) > max {
			slices[i] = s[:max]
		}
	}
}
