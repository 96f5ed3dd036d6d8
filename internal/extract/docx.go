package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
)

// DocxExtractor extracts text and core properties from DOCX bytes.
//
// A DOCX file is a ZIP archive; body text lives in word/document.xml and
// document properties in docProps/core.xml. Explicit page breaks split the
// text into pages; a document without page breaks is a single page.
type DocxExtractor struct{}

type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
	Tables     []docxTable     `xml:"tbl"`
}

type docxParagraph struct {
	Runs       []docxRun       `xml:"r"`
	Hyperlinks []docxHyperlink `xml:"hyperlink"`
}

type docxHyperlink struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Texts  []docxText  `xml:"t"`
	Breaks []docxBreak `xml:"br"`
	Tabs   []struct{}  `xml:"tab"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxBreak struct {
	Type string `xml:"type,attr"`
}

type docxTable struct {
	Rows []docxTableRow `xml:"tr"`
}

type docxTableRow struct {
	Cells []docxTableCell `xml:"tc"`
}

type docxTableCell struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxCoreProperties struct {
	XMLName xml.Name `xml:"coreProperties"`
	Creator string   `xml:"creator"`
	Created string   `xml:"created"`
}

// Extract parses the DOCX archive.
func (e *DocxExtractor) Extract(ctx context.Context, data []byte) (*Result, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %v", ErrCorruptDocument, err)
	}

	body, err := readArchiveFile(archive, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	var doc docxDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing document.xml: %v", ErrCorruptDocument, err)
	}

	pages := paginate(&doc.Body)
	if len(pages) == 0 {
		return nil, ErrNoContent
	}

	result := &Result{Pages: pages, PageCount: len(pages)}
	e.readCoreProperties(archive, result)
	return result, nil
}

// paginate flattens paragraphs and tables into pages, splitting at explicit
// page breaks.
func paginate(body *docxBody) []Page {
	var pages []Page
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		current.Reset()
		if text != "" || len(pages) > 0 {
			pages = append(pages, Page{Number: len(pages) + 1, Text: text})
		}
	}

	for _, para := range body.Paragraphs {
		parts, pageBreaks := paragraphText(para)
		for i, part := range parts {
			if part != "" {
				current.WriteString(part)
				current.WriteString("\n")
			}
			if i < pageBreaks {
				flush()
			}
		}
	}

	for _, table := range body.Tables {
		for _, row := range table.Rows {
			var cells []string
			for _, cell := range row.Cells {
				var cellText strings.Builder
				for _, para := range cell.Paragraphs {
					parts, _ := paragraphText(para)
					cellText.WriteString(strings.Join(parts, " "))
				}
				cells = append(cells, strings.TrimSpace(cellText.String()))
			}
			if line := strings.TrimSpace(strings.Join(cells, "\t")); line != "" {
				current.WriteString(line)
				current.WriteString("\n")
			}
		}
	}

	if current.Len() > 0 || len(pages) == 0 {
		flush()
	}
	// Trailing empty page from a final page break carries no content.
	for len(pages) > 1 && pages[len(pages)-1].Text == "" {
		pages = pages[:len(pages)-1]
	}
	if len(pages) == 1 && pages[0].Text == "" {
		return nil
	}
	return pages
}

// paragraphText renders a paragraph as segments separated by page breaks.
// The returned slice has pageBreaks+1 entries.
func paragraphText(para docxParagraph) (segments []string, pageBreaks int) {
	var current strings.Builder
	segments = []string{}

	appendRuns := func(runs []docxRun) {
		for _, run := range runs {
			for range run.Tabs {
				current.WriteString("\t")
			}
			for _, br := range run.Breaks {
				if br.Type == "page" {
					segments = append(segments, current.String())
					current.Reset()
					pageBreaks++
				} else {
					current.WriteString("\n")
				}
			}
			for _, t := range run.Texts {
				current.WriteString(t.Content)
			}
		}
	}

	appendRuns(para.Runs)
	for _, link := range para.Hyperlinks {
		appendRuns(link.Runs)
	}

	segments = append(segments, current.String())
	return segments, pageBreaks
}

// readCoreProperties pulls author and creation date from docProps/core.xml.
// Missing properties are not an error.
func (e *DocxExtractor) readCoreProperties(archive *zip.Reader, result *Result) {
	data, err := readArchiveFile(archive, "docProps/core.xml")
	if err != nil {
		return
	}
	var props docxCoreProperties
	if err := xml.Unmarshal(data, &props); err != nil {
		return
	}
	result.Author = strings.TrimSpace(props.Creator)
	if props.Created != "" {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(props.Created)); err == nil {
			result.CreationDate = &t
		}
	}
}

func readArchiveFile(archive *zip.Reader, name string) ([]byte, error) {
	for _, file := range archive.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}
