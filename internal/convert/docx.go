package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// docxParagraph は文書の1段落です。
type docxParagraph struct {
	Text  string
	Style string // "Title" または空
}

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>
</Types>`

const docxRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

const docxDocumentRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
</Relationships>`

const docxStyles = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/></w:style>
<w:style w:type="paragraph" w:styleId="Title"><w:name w:val="Title"/><w:basedOn w:val="Normal"/><w:rPr><w:b/><w:sz w:val="48"/></w:rPr></w:style>
</w:styles>`

// writeDocx は段落のみで構成される最小限の DOCX を w に書き込みます。
func writeDocx(w io.Writer, paragraphs []docxParagraph) error {
	zw := zip.NewWriter(w)

	parts := []struct {
		name string
		body string
	}{
		{name: "[Content_Types].xml", body: docxContentTypes},
		{name: "_rels/.rels", body: docxRootRels},
		{name: "word/_rels/document.xml.rels", body: docxDocumentRels},
		{name: "word/styles.xml", body: docxStyles},
	}
	for _, p := range parts {
		fw, err := zw.Create(p.name)
		if err != nil {
			return fmt.Errorf("docx: create %s: %w", p.name, err)
		}
		if _, err := io.WriteString(fw, p.body); err != nil {
			return fmt.Errorf("docx: write %s: %w", p.name, err)
		}
	}

	doc, err := renderDocumentXML(paragraphs)
	if err != nil {
		return err
	}
	fw, err := zw.Create("word/document.xml")
	if err != nil {
		return fmt.Errorf("docx: create document.xml: %w", err)
	}
	if _, err := fw.Write(doc); err != nil {
		return fmt.Errorf("docx: write document.xml: %w", err)
	}

	return zw.Close()
}

func renderDocumentXML(paragraphs []docxParagraph) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	buf.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		buf.WriteString("<w:p>")
		if p.Style != "" {
			fmt.Fprintf(&buf, `<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, p.Style)
		}
		lines := strings.Split(p.Text, "\n")
		buf.WriteString("<w:r>")
		for i, line := range lines {
			if i > 0 {
				buf.WriteString("<w:br/>")
			}
			buf.WriteString(`<w:t xml:space="preserve">`)
			if err := xml.EscapeText(&buf, []byte(line)); err != nil {
				return nil, fmt.Errorf("docx: escape text: %w", err)
			}
			buf.WriteString("</w:t>")
		}
		buf.WriteString("</w:r></w:p>")
	}
	buf.WriteString("</w:body></w:document>")
	return buf.Bytes(), nil
}

// writeDocxFile は DOCX を path に書き出します。
func writeDocxFile(path string, paragraphs []docxParagraph) error {
	var buf bytes.Buffer
	if err := writeDocx(&buf, paragraphs); err != nil {
		return newError(CodeFailed, "DOCX の作成に失敗しました。", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

// textParagraphs は空行区切りのテキストを段落に分割します。
func textParagraphs(text string) []docxParagraph {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []docxParagraph
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.Trim(block, "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		out = append(out, docxParagraph{Text: block})
	}
	return out
}
