package extract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const (
	pptxSlidePrefix = "ppt/slides/slide"
	pptxSlideSuffix = ".xml"
)

// slideNumber parses N from ppt/slides/slideN.xml; ok is false for any other entry.
func slideNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, pptxSlidePrefix) || !strings.HasSuffix(name, pptxSlideSuffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, pptxSlidePrefix), pptxSlideSuffix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// extractPPTX returns the text paragraphs of each slide in slide order (slide2 before slide10).
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("extract PPTX: %w", err)
	}
	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		if n, ok := slideNumber(f.Name); ok {
			slides = append(slides, slide{num: n, name: f.Name})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var lines []string
	for _, s := range slides {
		data, err := readZipEntry(zr, s.name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		paras, err := slideParagraphs(data)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %s: %w", s.name, err)
		}
		lines = append(lines, paras...)
	}
	return strings.Join(lines, "\n"), nil
}

// slideParagraphs collects the <a:t> runs of each <a:p> paragraph.
func slideParagraphs(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out    []string
		para   *strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para = &strings.Builder{}
			case "t":
				inText = para != nil
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
				if para == nil {
					continue
				}
				if text := strings.TrimSpace(para.String()); text != "" {
					out = append(out, text)
				}
				para = nil
			}
		}
	}
}
