// Package digest renders parsed deals into the HTML body of the digest email.
package digest

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"

	"github.com/pauljones0/rfd-deal-digest/internal/models"
)

// EmptyDigest is the body used when a run found nothing to show.
const EmptyDigest = "<p>No deals found today.</p>"

//go:embed templates/digest.html
var templateFS embed.FS

var digestTemplate = template.Must(template.New("digest").ParseFS(templateFS, "templates/digest.html"))

type item struct {
	Position  int
	Title     string
	URL       string
	Author    string
	CreatedAt string
	Rating    string
	Votes     string
	Glyph     string
}

// Formatter renders at most maxDeals deals per digest.
type Formatter struct {
	maxDeals   int
	listingURL string
	tmpl       *template.Template
}

// New returns a Formatter. A maxDeals below one is treated as one.
func New(maxDeals int, listingURL string) *Formatter {
	if maxDeals < 1 {
		maxDeals = 1
	}
	return &Formatter{maxDeals: maxDeals, listingURL: listingURL, tmpl: digestTemplate}
}

// Format renders deals in the order given. It never returns an empty string.
func (f *Formatter) Format(deals []models.Deal) string {
	if len(deals) == 0 {
		return EmptyDigest
	}

	shown := deals
	if len(shown) > f.maxDeals {
		shown = shown[:f.maxDeals]
	}

	items := make([]item, 0, len(shown))
	for i, d := range shown {
		items = append(items, item{
			Position:  i + 1,
			Title:     d.Title,
			URL:       d.URL,
			Author:    d.Author,
			CreatedAt: d.CreatedAt,
			Rating:    d.Rating,
			Votes:     d.Votes,
			Glyph:     d.VoteType.Glyph(),
		})
	}

	data := struct {
		Total      int
		Items      []item
		ListingURL string
	}{
		Total:      len(deals),
		Items:      items,
		ListingURL: f.listingURL,
	}

	var buf bytes.Buffer
	if err := f.tmpl.ExecuteTemplate(&buf, "digest.html", data); err != nil {
		slog.Error("Failed to render digest, sending placeholder", "error", err, "deals", len(deals))
		return EmptyDigest
	}
	return buf.String()
}
