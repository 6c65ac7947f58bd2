// Package metadata repairs the document-level accessibility metadata: the
// primary language, the title in both the Info dictionary and XMP, the
// MarkInfo flag, and the assistive-technology extraction permission.
package metadata

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"pdfua/ir/semantic"
	"pdfua/observability"
)

// PermissionConflict is returned when clearing the extraction restriction
// requires changing document permissions and the caller has not authorized
// permission changes. It is fatal for the permission repair.
type PermissionConflict struct {
	Detail string
}

func (e *PermissionConflict) Error() string {
	return "permission conflict: " + e.Detail
}

// Options configures a repair pass. The four Fix toggles select which
// repairs run; a toggle left false leaves that aspect untouched.
type Options struct {
	FixLanguage    bool
	FixTitle       bool
	FixMarked      bool
	FixPermissions bool

	// Language is the fallback primary language when the document has
	// none or an invalid one. Empty means "en".
	Language string
	// Title overrides the document title. Empty keeps whatever the
	// document already has.
	Title string
	// AuthorizePermissions allows rewriting the permission bits (which
	// implies removing encryption on save).
	AuthorizePermissions bool

	Logger observability.Logger
}

// Result reports what was changed and what needs human review.
type Result struct {
	LanguageFixed   bool
	TitleFixed      bool
	MarkedFixed     bool
	PermissionFixed bool
	// RemoveEncryption tells the writer to drop the encryption
	// dictionary so the cleared restriction actually takes effect.
	RemoveEncryption bool
	// TitleMismatch flags disagreement between Info and XMP that the
	// repair could not reconcile from the options.
	TitleMismatch bool
	Fixes         int
}

// Repair applies the metadata fixes in place.
func Repair(doc *semantic.Document, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	res := &Result{}

	fallback := opts.Language
	if fallback == "" {
		fallback = "en"
	}
	if opts.FixLanguage && !ValidLanguage(doc.Lang) {
		log.Info("setting primary language",
			observability.String("old", doc.Lang),
			observability.String("lang", fallback))
		doc.Lang = fallback
		doc.Dirty = true
		res.LanguageFixed = true
		res.Fixes++
	}

	if opts.FixTitle {
		if err := repairTitle(doc, opts.Title, res); err != nil {
			return nil, err
		}
	}

	if opts.FixMarked && !doc.Marked {
		doc.Marked = true
		doc.Dirty = true
		res.MarkedFixed = true
		res.Fixes++
	}

	if opts.FixPermissions && !doc.Permissions.ExtractAccessible {
		if !opts.AuthorizePermissions {
			return nil, &PermissionConflict{
				Detail: "assistive-technology extraction is disallowed and permission changes were not authorized",
			}
		}
		doc.Permissions.ExtractAccessible = true
		doc.Dirty = true
		res.PermissionFixed = true
		res.RemoveEncryption = doc.Encrypted
		res.Fixes++
	}
	return res, nil
}

// ValidLanguage reports whether s is a well-formed BCP 47 tag.
func ValidLanguage(s string) bool {
	if s == "" {
		return false
	}
	_, err := language.Parse(s)
	return err == nil
}

func repairTitle(doc *semantic.Document, override string, res *Result) error {
	infoTitle := ""
	if doc.Info != nil {
		infoTitle = doc.Info.Title
	}
	xmpTitle := XMPTitle(doc.Metadata)

	title := override
	if title == "" {
		switch {
		case infoTitle != "":
			title = infoTitle
		case xmpTitle != "":
			title = xmpTitle
		}
	}
	if title == "" {
		// nothing to write; the validator will fail document-title
		return nil
	}
	if override == "" && infoTitle != "" && xmpTitle != "" && infoTitle != xmpTitle {
		res.TitleMismatch = true
	}

	if doc.Info == nil {
		doc.Info = &semantic.DocumentInfo{}
	}
	if doc.Info.Title != title {
		doc.Info.Title = title
		doc.Dirty = true
		res.TitleFixed = true
	}
	if xmpTitle != title {
		setXMPTitle(doc, title)
		res.TitleFixed = true
	}
	if res.TitleFixed {
		res.Fixes++
	}
	return nil
}

// XMPTitle extracts dc:title from an XMP packet. The packet layouts in the
// wild vary; this looks for the first rdf:li inside dc:title.
func XMPTitle(m *semantic.XMPMetadata) string {
	if m == nil || len(m.Raw) == 0 {
		return ""
	}
	data := m.Raw
	start := bytes.Index(data, []byte("<dc:title>"))
	if start < 0 {
		return ""
	}
	end := bytes.Index(data[start:], []byte("</dc:title>"))
	if end < 0 {
		return ""
	}
	section := data[start : start+end]
	liStart := bytes.Index(section, []byte("<rdf:li"))
	if liStart < 0 {
		return ""
	}
	rest := section[liStart:]
	open := bytes.IndexByte(rest, '>')
	if open < 0 {
		return ""
	}
	liEnd := bytes.Index(rest, []byte("</rdf:li>"))
	if liEnd < 0 || liEnd < open {
		return ""
	}
	return xmlUnescape(strings.TrimSpace(string(rest[open+1 : liEnd])))
}

func setXMPTitle(doc *semantic.Document, title string) {
	if doc.Metadata == nil || len(doc.Metadata.Raw) == 0 {
		doc.Metadata = &semantic.XMPMetadata{Raw: SynthesizePacket(title, doc.Lang), Dirty: true}
		doc.Dirty = true
		return
	}
	data := doc.Metadata.Raw
	start := bytes.Index(data, []byte("<dc:title>"))
	if start >= 0 {
		end := bytes.Index(data[start:], []byte("</dc:title>"))
		if end >= 0 {
			var buf bytes.Buffer
			buf.Write(data[:start])
			buf.WriteString(titleBlock(title))
			buf.Write(data[start+end+len("</dc:title>"):])
			doc.Metadata.Raw = buf.Bytes()
			doc.Metadata.Dirty = true
			doc.Dirty = true
			return
		}
	}
	// no dc:title in the existing packet: splice one into rdf:Description,
	// or fall back to a fresh packet
	marker := []byte("</rdf:Description>")
	if idx := bytes.Index(data, marker); idx >= 0 {
		var buf bytes.Buffer
		buf.Write(data[:idx])
		buf.WriteString(titleBlock(title))
		buf.Write(data[idx:])
		doc.Metadata.Raw = buf.Bytes()
	} else {
		doc.Metadata.Raw = SynthesizePacket(title, doc.Lang)
	}
	doc.Metadata.Dirty = true
	doc.Dirty = true
}

func titleBlock(title string) string {
	return fmt.Sprintf(`<dc:title><rdf:Alt><rdf:li xml:lang="x-default">%s</rdf:li></rdf:Alt></dc:title>`,
		xmlEscape(title))
}

// SynthesizePacket builds a minimal XMP packet carrying the title and
// language.
func SynthesizePacket(title, lang string) []byte {
	if lang == "" {
		lang = "en"
	}
	var buf bytes.Buffer
	buf.WriteString(`<?xpacket begin="` + "\xef\xbb\xbf" + `" id="W5M0MpCehiHzreSzNTczkc9d"?>` + "\n")
	buf.WriteString(`<x:xmpmeta xmlns:x="adobe:ns:meta/">` + "\n")
	buf.WriteString(` <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` + "\n")
	buf.WriteString(`  <rdf:Description rdf:about="" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:pdfuaid="http://www.aiim.org/pdfua/ns/id/">` + "\n")
	buf.WriteString(`   <pdfuaid:part>1</pdfuaid:part>` + "\n")
	buf.WriteString(`   <dc:language><rdf:Bag><rdf:li>` + xmlEscape(lang) + `</rdf:li></rdf:Bag></dc:language>` + "\n")
	buf.WriteString(`   ` + titleBlock(title) + "\n")
	buf.WriteString(`  </rdf:Description>` + "\n")
	buf.WriteString(` </rdf:RDF>` + "\n")
	buf.WriteString(`</x:xmpmeta>` + "\n")
	buf.WriteString(`<?xpacket end="w"?>`)
	return buf.Bytes()
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

func xmlUnescape(s string) string {
	r := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")
	return r.Replace(s)
}
