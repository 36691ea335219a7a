// Package linkcodec implements the public and password-protected link
// formats of §6.2: encode/decode of file/folder public links (new and
// legacy `#!`/`#F!` forms) and the password-protected `#P!` blob with its
// PBKDF2-HMAC-SHA512 MAC-key derivation and the two legacy hash-order
// algorithm variants.
//
// There is no teacher analogue for a public-link wire format; this is
// built fresh following the byte-layout and key-derivation rules of §6.2,
// in the small-struct-with-encode/decode-methods idiom the rest of this
// module uses (mirroring scsn.SCSN's shape).
package linkcodec

import (
	"encoding/base64"
	"strings"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

var linkEncoding = base64.RawURLEncoding

// PublicLinkURL renders the new-format public link for ph/key (§6.2).
// isFile selects the /file/ vs /folder/ path segment.
func PublicLinkURL(ph, key []byte, isFile bool) string {
	kind := "folder"
	if isFile {
		kind = "file"
	}
	return "https://mega.nz/" + kind + "/" + linkEncoding.EncodeToString(ph) + "#" + linkEncoding.EncodeToString(key)
}

// LegacyLinkURL renders the legacy `#!`/`#F!` public link form.
func LegacyLinkURL(ph, key []byte, isFile bool) string {
	tag := "F!"
	if isFile {
		tag = "!"
	}
	return "https://mega.nz/#" + tag + linkEncoding.EncodeToString(ph) + "!" + linkEncoding.EncodeToString(key)
}

// ParsedLink is a decoded public link, in either the new or legacy form.
type ParsedLink struct {
	PublicHandle core.PublicHandle
	Key          []byte
	IsFile       bool
}

// Parse decodes a public link URL in any of the four supported forms.
func Parse(link string) (*ParsedLink, error) {
	const op = "linkcodec.Parse"

	switch {
	case strings.Contains(link, "/file/"):
		return parseNewForm(link, "/file/", true)
	case strings.Contains(link, "/folder/"):
		return parseNewForm(link, "/folder/", false)
	case strings.Contains(link, "#F!"):
		return parseLegacyForm(link, "#F!", false)
	case strings.Contains(link, "#!"):
		return parseLegacyForm(link, "#!", true)
	}
	return nil, errors.E(op, errors.Syntax, errors.Str("unrecognized link form"))
}

func parseNewForm(link, sep string, isFile bool) (*ParsedLink, error) {
	const op = "linkcodec.parseNewForm"
	i := strings.Index(link, sep)
	rest := link[i+len(sep):]
	parts := strings.SplitN(rest, "#", 2)
	if len(parts) != 2 {
		return nil, errors.E(op, errors.Syntax, errors.Str("missing key fragment"))
	}
	key, err := linkEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.E(op, errors.Syntax, err)
	}
	h, err := core.DecodeHandle(parts[0])
	if err != nil {
		return nil, errors.E(op, errors.Syntax, err)
	}
	return &ParsedLink{PublicHandle: core.PublicHandle(h), Key: key, IsFile: isFile}, nil
}

func parseLegacyForm(link, sep string, isFile bool) (*ParsedLink, error) {
	const op = "linkcodec.parseLegacyForm"
	i := strings.Index(link, sep)
	rest := link[i+len(sep):]
	parts := strings.SplitN(rest, "!", 2)
	if len(parts) != 2 {
		return nil, errors.E(op, errors.Syntax, errors.Str("missing key fragment"))
	}
	key, err := linkEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.E(op, errors.Syntax, err)
	}
	h, err := core.DecodeHandle(parts[0])
	if err != nil {
		return nil, errors.E(op, errors.Syntax, err)
	}
	return &ParsedLink{PublicHandle: core.PublicHandle(h), Key: key, IsFile: isFile}, nil
}
