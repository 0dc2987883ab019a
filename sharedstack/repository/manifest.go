package repository

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// ManifestSuffix is the file suffix of tag manifests on the distribution
// server.
const ManifestSuffix = ".list"

// Row is one product entry of a tag manifest. Flavor is parsed for
// validation but not carried into the tracker; the model does not
// disambiguate multi-platform manifests.
type Row struct {
	Product string
	Flavor  string
	Version string
}

// parseTagListing extracts candidate tag names from the server's tag-listing
// page: the text of every anchor ending in ManifestSuffix, suffix stripped.
func parseTagListing(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing tag listing: %w", err)
	}

	var tags []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			text := anchorText(n)
			if strings.HasSuffix(text, ManifestSuffix) {
				tags = append(tags, strings.TrimSuffix(text, ManifestSuffix))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return tags, nil
}

func anchorText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// parseManifest reads the manifest for tag. The self-describing header line
// and # comments are skipped; every other line must be exactly three
// whitespace-separated fields. A malformed row fails the whole manifest.
func parseManifest(tag string, r io.Reader) ([]Row, error) {
	header := fmt.Sprintf("EUPS distribution %s version list", tag)

	var rows []Row
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.Contains(line, header) {
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("manifest %s%s: line %d: expected 3 fields, got %d",
				tag, ManifestSuffix, lineno, len(fields))
		}
		rows = append(rows, Row{Product: fields[0], Flavor: fields[1], Version: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest %s%s: %w", tag, ManifestSuffix, err)
	}
	return rows, nil
}
