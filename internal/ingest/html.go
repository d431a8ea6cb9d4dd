package ingest

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
)

// blockTags close a chunk of page text when they end
var blockTags = map[string]bool{
	"p": true, "li": true, "pre": true, "td": true, "th": true, "dd": true, "dt": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "caption": true,
}

// Page is the text extracted from an HTML document
type Page struct {
	Title  string
	Blocks []string
	Links  []string
}

// ParseHTML extracts the title, block-level text and links from an HTML page.
// Script and style content is skipped.
func ParseHTML(body io.Reader) (*Page, error) {
	tokenizer := html.NewTokenizer(body)
	page := &Page{}
	var block strings.Builder
	inScript := false
	inStyle := false
	inTitle := false

	flush := func() {
		if text := cleanText(block.String()); text != "" {
			page.Blocks = append(page.Blocks, text)
		}
		block.Reset()
	}

	for {
		tokenType := tokenizer.Next()

		switch tokenType {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				flush()
				return page, nil
			}
			return nil, tokenizer.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "script":
				inScript = true
			case "style":
				inStyle = true
			case "title":
				inTitle = true
			case "br":
				block.WriteString(" ")
			case "a":
				for _, attr := range token.Attr {
					if attr.Key == "href" && attr.Val != "" {
						page.Links = append(page.Links, strings.TrimSpace(attr.Val))
					}
				}
			default:
				if blockTags[token.Data] {
					flush()
				}
			}

		case html.EndTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "script":
				inScript = false
			case "style":
				inStyle = false
			case "title":
				inTitle = false
			default:
				if blockTags[token.Data] {
					flush()
				}
			}

		case html.TextToken:
			text := tokenizer.Token().Data
			if inTitle {
				page.Title = cleanText(text)
				continue
			}
			if !inScript && !inStyle {
				block.WriteString(text)
				block.WriteString(" ")
			}
		}
	}
}

// HTMLChunker turns HTML documentation pages into one chunk per text block
type HTMLChunker struct {
	// MinLength drops blocks shorter than this many characters
	MinLength int
}

func NewHTMLChunker() *HTMLChunker {
	return &HTMLChunker{MinLength: 20}
}

// Chunk parses body and emits chunks tagged with sourceType and sourceID.
// Ids are derived from sourceID and block position.
func (c *HTMLChunker) Chunk(body io.Reader, sourceType chunk.SourceType, sourceID string) ([]chunk.Chunk, error) {
	page, err := ParseHTML(body)
	if err != nil {
		return nil, fmt.Errorf("parsing error: %w", err)
	}
	return c.FromPage(page, sourceType, sourceID), nil
}

// FromPage converts already parsed page text into chunks
func (c *HTMLChunker) FromPage(page *Page, sourceType chunk.SourceType, sourceID string) []chunk.Chunk {
	var chunks []chunk.Chunk
	for _, block := range page.Blocks {
		if len(block) < c.MinLength {
			continue
		}
		position := len(chunks)
		id := chunk.NewID(string(sourceType), sourceID, fmt.Sprintf("%d", position))
		chunks = append(chunks, chunk.New(id, sourceType, sourceID, block, map[string]any{
			"title":    page.Title,
			"position": float64(position),
		}))
	}
	return chunks
}

// cleanText removes excessive whitespace
func cleanText(input string) string {
	return strings.Join(strings.Fields(input), " ")
}
