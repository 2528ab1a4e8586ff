package lookup

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/browser"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/textnorm"
)

// headingSeparator splits "<tax id> - <name>" style result headings.
const headingSeparator = " - "

// Fields holds what could be read from a result page. Missing values are
// empty strings.
type Fields struct {
	TaxID string
	Name  string
}

// ExtractFields reads the tax id and name from a result page. The name comes
// from the right-hand side of the heading when it has one, else from the
// representative row of the details table. Malformed HTML yields whatever
// the parser recovers.
func ExtractFields(html, heading string, p Profile) Fields {
	var f Fields
	if _, right, ok := strings.Cut(strings.TrimSpace(heading), headingSeparator); ok {
		f.Name = cleanText(right)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return f
	}

	f.TaxID = labelledCell(doc, p.TaxIDLabels)
	if f.TaxID == "" && p.TaxIDFallback != "" {
		f.TaxID = cleanText(doc.Find(p.TaxIDFallback).First().Text())
	}
	if f.Name == "" {
		f.Name = labelledCell(doc, p.RepresentativeLabels)
	}
	if f.Name == "" && p.NameFallback != "" {
		f.Name = cleanText(doc.Find(p.NameFallback).First().Text())
	}
	return f
}

// labelledCell returns the text of the cell following the first label cell
// matching any of labels.
func labelledCell(doc *goquery.Document, labels []string) string {
	var value string
	doc.Find("td").EachWithBreak(func(_ int, td *goquery.Selection) bool {
		if !matchesAny(td.Text(), labels) {
			return true
		}
		next := td.NextAllFiltered("td").First()
		if next.Length() == 0 {
			return true
		}
		value = cleanText(next.Text())
		return value == ""
	})
	return value
}

func matchesAny(text string, labels []string) bool {
	for _, label := range labels {
		if textnorm.Contains(text, label) {
			return true
		}
	}
	return false
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Classifier turns a loaded result page into an outcome.
type Classifier struct {
	profile Profile
	snap    *Snapshotter
	log     *zap.Logger
}

// NewClassifier returns a classifier for profile. snap may be nil.
func NewClassifier(profile Profile, snap *Snapshotter, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{profile: profile, snap: snap, log: log}
}

// Classify never fails: anything unreadable counts as absent.
func (c *Classifier) Classify(ctx context.Context, drv browser.Driver, id string) model.Outcome {
	heading, err := drv.PageText(ctx, c.profile.Heading)
	if err != nil {
		c.log.Debug("lookup: heading unreadable", zap.String("id", id), zap.Error(err))
	}
	src, err := drv.DumpSource(ctx)
	if err != nil {
		c.log.Debug("lookup: page source unavailable", zap.String("id", id), zap.Error(err))
	}

	f := ExtractFields(src, heading, c.profile)
	if f.TaxID != "" {
		return model.Succeeded(f.TaxID, f.Name)
	}

	url, err := drv.CurrentURL(ctx)
	if err != nil {
		c.log.Debug("lookup: current url unavailable", zap.String("id", id), zap.Error(err))
	}
	if c.profile.ListingMarker != "" && strings.Contains(url, c.profile.ListingMarker) {
		return model.Failed(model.StatusNotFoundListing, url)
	}

	detail := "no tax id on result page " + url
	if path := c.snap.Save(SnapshotDetail, id, src); path != "" {
		detail = path
	}
	return model.Failed(model.StatusNotFoundDetail, detail)
}
