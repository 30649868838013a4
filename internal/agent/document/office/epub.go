package office

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/feichai0017/document-converter/internal/models"
)

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Metadata struct {
		Title   []string `xml:"title"`
		Creator []string `xml:"creator"`
	} `xml:"metadata"`
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

func (e *Extractor) extractEpub(a *archive, keepImages bool) (*models.RenderedResult, error) {
	data, err := a.read("META-INF/container.xml")
	if err != nil {
		return nil, fmt.Errorf("not an epub: %w", err)
	}
	var container epubContainer
	if err := xml.Unmarshal(data, &container); err != nil || len(container.Rootfiles) == 0 {
		return nil, fmt.Errorf("invalid epub container")
	}

	opfPath := container.Rootfiles[0].FullPath
	data, err = a.read(opfPath)
	if err != nil {
		return nil, err
	}
	var pkg epubPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", opfPath, err)
	}

	base := path.Dir(opfPath)
	resolve := func(href string) string {
		if u, err := url.PathUnescape(href); err == nil {
			href = u
		}
		return path.Join(base, href)
	}

	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		hrefs[item.ID] = item.Href
	}

	result := newResult()
	var blocks []string
	for _, ref := range pkg.Spine {
		href, ok := hrefs[ref.IDRef]
		if !ok {
			e.logger.Warn("Spine item missing from manifest")
			continue
		}
		chapter, err := a.read(resolve(href))
		if err != nil {
			return nil, err
		}
		doc, err := htmlDocument(bytes.NewReader(chapter))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", href, err)
		}
		blocks = append(blocks, doc.markdown)
	}
	result.Markdown = joinBlocks(blocks)

	for _, item := range pkg.Manifest {
		if strings.HasPrefix(item.MediaType, "image/") {
			a.addImage(result, resolve(item.Href), keepImages)
		}
	}

	if len(pkg.Metadata.Title) > 0 {
		result.Metadata["title"] = strings.TrimSpace(pkg.Metadata.Title[0])
	}
	if len(pkg.Metadata.Creator) > 0 {
		result.Metadata["author"] = strings.TrimSpace(pkg.Metadata.Creator[0])
	}
	result.Metadata["chapters"] = len(blocks)
	return result, nil
}
