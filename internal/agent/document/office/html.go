package office

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/feichai0017/document-converter/internal/models"
)

func (e *Extractor) extractHTML(r io.Reader, _ bool) (*models.RenderedResult, error) {
	doc, err := htmlDocument(r)
	if err != nil {
		return nil, err
	}

	result := newResult()
	result.Markdown = doc.markdown
	result.ImageCount = doc.images
	if doc.title != "" {
		result.Metadata["title"] = doc.title
	}
	result.Metadata["source"] = string(models.HTML)
	return result, nil
}

type htmlDoc struct {
	markdown string
	title    string
	images   int
}

func htmlDocument(r io.Reader) (*htmlDoc, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	w := &mdWriter{}
	w.walk(root)
	return &htmlDoc{
		markdown: normalize(w.b.String()),
		title:    w.title,
		images:   w.images,
	}, nil
}

type mdWriter struct {
	b      strings.Builder
	title  string
	images int
}

func (w *mdWriter) block(s string) {
	w.b.WriteString("\n\n" + s + "\n\n")
}

func (w *mdWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.b.WriteString(collapse(n.Data))
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		case atom.Title:
			if w.title == "" {
				w.title = strings.TrimSpace(inlineText(n))
			}
			return
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			level := int(n.Data[1] - '0')
			if text := inlineText(n); text != "" {
				w.block(strings.Repeat("#", level) + " " + text)
			}
			return
		case atom.Img:
			w.images++
			return
		case atom.Br:
			w.b.WriteString("\n")
			return
		case atom.Hr:
			w.block("---")
			return
		case atom.Pre:
			w.block("```\n" + strings.Trim(rawText(n), "\n") + "\n```")
			return
		case atom.Table:
			w.block(markdownTable(tableRows(n)))
			w.images += countImages(n)
			return
		case atom.Li:
			w.b.WriteString("\n- ")
			w.children(n)
			return
		case atom.P, atom.Div, atom.Section, atom.Article, atom.Blockquote,
			atom.Ul, atom.Ol, atom.Header, atom.Footer, atom.Main, atom.Nav:
			w.b.WriteString("\n\n")
			w.children(n)
			w.b.WriteString("\n\n")
			return
		}
	}
	w.children(n)
}

func (w *mdWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func tableRows(table *html.Node) [][]string {
	var rows [][]string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var row []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					row = append(row, inlineText(c))
				}
			}
			rows = append(rows, row)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(table)
	return rows
}

func countImages(n *html.Node) int {
	count := 0
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		count++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		count += countImages(c)
	}
	return count
}

// inlineText is the whitespace-collapsed text under n.
func inlineText(n *html.Node) string {
	return strings.Join(strings.Fields(rawText(n)), " ")
}

func rawText(n *html.Node) string {
	var b bytes.Buffer
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}

var spaceRun = regexp.MustCompile(`\s+`)

func collapse(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}

var blankRun = regexp.MustCompile(`\n{3,}`)

// normalize trims each line outside code fences and squeezes blank lines.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	fenced := false
	for i, l := range lines {
		if strings.TrimSpace(l) == "```" {
			fenced = !fenced
			lines[i] = "```"
			continue
		}
		if !fenced {
			lines[i] = strings.TrimSpace(l)
		}
	}
	return strings.TrimSpace(blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
