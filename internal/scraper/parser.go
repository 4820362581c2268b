package scraper

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pauljones0/rfd-deal-digest/internal/metrics"
	"github.com/pauljones0/rfd-deal-digest/internal/models"
	"github.com/pauljones0/rfd-deal-digest/internal/util"
)

var errMissingTitleLink = errors.New("title link element not found")

// Parser turns a hot deals listing page into Deals. It keeps no state
// between calls.
type Parser struct {
	selectors SelectorConfig
	origin    string
}

func NewParser(selectors SelectorConfig) *Parser {
	return &Parser{selectors: selectors, origin: util.ForumOrigin}
}

// Parse extracts one Deal per listing item, in page order. Items that
// cannot be extracted are logged and skipped; the rest are still returned.
// An error is returned only when the document itself cannot be read.
func (p *Parser) Parse(htmlText string) ([]models.Deal, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return nil, fmt.Errorf("failed to read listing document: %w", err)
	}

	container := p.selectors.HotDealsList.Container
	items := doc.Find(container.Item)
	slog.Debug("Found listing items", "count", items.Length())

	deals := make([]models.Deal, 0, items.Length())
	items.Each(func(i int, s *goquery.Selection) {
		if container.IgnoreModifier != "" && s.Is(container.IgnoreModifier) {
			return
		}
		deal, err := p.parseItem(i, s)
		if err != nil {
			metrics.ItemsSkipped.Inc()
			slog.Warn("Skipping listing item", "error", err)
			return
		}
		deals = append(deals, deal)
	})

	metrics.DealsParsed.Add(float64(len(deals)))
	return deals, nil
}

func (p *Parser) parseItem(index int, s *goquery.Selection) (deal models.Deal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ItemError{Index: index, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	el := p.selectors.HotDealsList.Elements

	// 1. Title & link
	titleLink := s.Find(el.TitleLink).First()
	if titleLink.Length() == 0 {
		return models.Deal{}, &ItemError{Index: index, Err: errMissingTitleLink}
	}
	deal.Title = util.StrippedText(titleLink)
	if href, exists := titleLink.Attr("href"); exists {
		deal.URL = util.AbsoluteURL(p.origin, strings.TrimSpace(href))
	}

	// 2. Created / updated labels
	times := s.Find(el.Time)
	if times.Length() > 0 {
		deal.CreatedAt = util.StrippedText(times.First())
		deal.UpdatedAt = deal.CreatedAt
		if times.Length() > 1 {
			deal.UpdatedAt = util.StrippedText(times.Last())
		}
	}

	// 3. Views
	deal.Rating = util.StrippedText(s.Find(el.Views).First())

	// 4. Votes
	deal.VoteType = models.VoteUnknown
	votes := s.Find(el.Votes).First()
	if votes.Length() > 0 {
		deal.Votes = util.StrippedText(votes.Find(el.VoteCount).First())
		switch {
		case votes.Find(el.ThumbsUp).Length() > 0:
			deal.VoteType = models.VoteUp
		case votes.Find(el.ThumbsDown).Length() > 0:
			deal.VoteType = models.VoteDown
		}
	}

	// 5. Author
	deal.Author = util.StrippedText(s.Find(el.AuthorName).First())

	return deal, nil
}
