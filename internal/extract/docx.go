package extract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

type contentTypes struct {
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

// docxMainPart resolves the main document part from [Content_Types].xml, falling back
// to word/document.xml.
func docxMainPart(raw []byte) string {
	if raw == nil {
		return docxDocumentXMLPath
	}
	var ct contentTypes
	if err := xml.Unmarshal(raw, &ct); err != nil {
		return docxDocumentXMLPath
	}
	for _, o := range ct.Overrides {
		if o.ContentType == docxMainContentType {
			return strings.TrimPrefix(o.PartName, "/")
		}
	}
	return docxDocumentXMLPath
}

// extractDOCX returns the non-empty body paragraphs in document order, followed by the
// non-empty cells of each top-level table in row-major order, one per line.
func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	ct, err := readZipEntry(zr, contentTypesPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	part := docxMainPart(ct)
	docXML, err := readZipEntry(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}
	paragraphs, cells, err := walkDocument(docXML)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	return strings.Join(append(paragraphs, cells...), "\n"), nil
}

// walkDocument streams WordprocessingML. Paragraphs outside any table are body
// paragraphs; a cell's text is its direct paragraphs joined by newlines. Cells of
// nested tables belong to the nested table and are not reported separately.
func walkDocument(docXML []byte) (paragraphs, cells []string, err error) {
	dec := xml.NewDecoder(bytes.NewReader(docXML))
	var (
		para      *strings.Builder
		nested    int // text boxes hold paragraphs inside a paragraph's run
		inText    bool
		cellStack [][]string
	)
	for {
		tok, tokErr := dec.Token()
		if errors.Is(tokErr, io.EOF) {
			break
		}
		if tokErr != nil {
			return nil, nil, tokErr
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if para != nil {
					nested++
					continue
				}
				para = &strings.Builder{}
			case "t":
				inText = para != nil
			case "tab":
				if para != nil {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if para != nil {
					para.WriteByte('\n')
				}
			case "tc":
				cellStack = append(cellStack, nil)
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if nested > 0 {
					nested--
					continue
				}
				if para == nil {
					continue
				}
				text := para.String()
				para = nil
				if len(cellStack) == 0 {
					if strings.TrimSpace(text) != "" {
						paragraphs = append(paragraphs, text)
					}
					continue
				}
				top := len(cellStack) - 1
				cellStack[top] = append(cellStack[top], text)
			case "tc":
				if len(cellStack) == 0 {
					continue
				}
				top := len(cellStack) - 1
				text := strings.Join(cellStack[top], "\n")
				cellStack = cellStack[:top]
				if top == 0 && strings.TrimSpace(text) != "" {
					cells = append(cells, text)
				}
			}
		}
	}
	return paragraphs, cells, nil
}
