// Package extract turns uploaded resume files into plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

var (
	// ErrUnsupported is returned for files of an unknown format.
	ErrUnsupported = errors.New("unsupported resume format")
	// ErrInvalid is returned when a file cannot be parsed as its format.
	ErrInvalid = errors.New("invalid resume file")
)

// Text extracts plain text from a resume. The format is chosen by file
// extension, falling back to the content's magic bytes.
func Text(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".docx":
		return DOCX(data)
	case ".pdf":
		return PDF(data)
	case ".html", ".htm":
		return HTML(data)
	case ".txt", ".text":
		return Plain(data)
	}

	switch {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return DOCX(data)
	case bytes.HasPrefix(data, []byte("%PDF")):
		return PDF(data)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, filename)
}

// DOCX extracts the text of word/document.xml, one line per paragraph.
func DOCX(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: opening docx: %v", ErrInvalid, err)
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: opening document.xml: %v", ErrInvalid, err)
		}
		defer rc.Close()
		return parseDocumentXML(rc)
	}
	return "", fmt.Errorf("%w: word/document.xml not found", ErrInvalid)
}

// parseDocumentXML walks the WordprocessingML token stream so text inside
// tables and text boxes is kept along with body paragraphs.
func parseDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var out strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: parsing document.xml: %v", ErrInvalid, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				out.WriteByte('\t')
			case "br", "cr":
				out.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				out.Write(t)
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// PDF extracts the plain text layer of a PDF. The pdf library panics on
// some malformed files; those are reported as ErrInvalid.
func PDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: malformed pdf: %v", ErrInvalid, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: opening pdf: %v", ErrInvalid, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: reading pdf text: %v", ErrInvalid, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("%w: reading pdf text: %v", ErrInvalid, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

var htmlBlocks = map[string]bool{
	"address": true, "article": true, "br": true, "div": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "p": true, "section": true,
	"table": true, "td": true, "th": true, "title": true, "tr": true,
}

// Source line breaks inside a text run are not paragraph breaks.
var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// HTML extracts the visible text of an HTML resume, one line per block
// element. Script and style bodies are dropped.
func HTML(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: html file is not valid UTF-8", ErrInvalid)
	}

	z := html.NewTokenizer(bytes.NewReader(data))
	var out strings.Builder
	hidden := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w: parsing html: %v", ErrInvalid, err)
			}
			return collapseLines(out.String()), nil
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					hidden++
				} else if tt == html.EndTagToken && hidden > 0 {
					hidden--
				}
			}
			if htmlBlocks[tag] {
				out.WriteByte('\n')
			}
		case html.TextToken:
			if hidden == 0 {
				out.WriteString(lineBreaks.Replace(string(z.Text())))
			}
		}
	}
}

// collapseLines squeezes whitespace runs inside each line and drops blank lines.
func collapseLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}

// Plain returns UTF-8 text as is.
func Plain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text file is not valid UTF-8", ErrInvalid)
	}
	return strings.TrimSpace(string(data)), nil
}
