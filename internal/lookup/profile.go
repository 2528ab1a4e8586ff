package lookup

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/taxid-cli/internal/browser"
	"github.com/sells-group/taxid-cli/internal/obstacle"
)

// Scripts used by the scripted submit fallback. Both receive a locator in
// its "css:<selector>" or "xpath:<expr>" string form and return false when
// nothing matches.
const (
	clearScript = `(loc) => {
	const i = loc.indexOf(':');
	const kind = loc.slice(0, i), q = loc.slice(i + 1);
	const el = kind === 'xpath'
		? document.evaluate(q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
		: document.querySelector(q);
	if (!el) return false;
	el.value = '';
	el.dispatchEvent(new Event('input', { bubbles: true }));
	return true;
}`

	clickScript = `(loc) => {
	const i = loc.indexOf(':');
	const kind = loc.slice(0, i), q = loc.slice(i + 1);
	const el = kind === 'xpath'
		? document.evaluate(q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
		: document.querySelector(q);
	if (!el) return false;
	el.click();
	return true;
}`
)

// Profile describes the registry site: where to search and how to read a
// result page.
type Profile struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`

	SearchInput browser.Locator   `yaml:"search_input"`
	Submit      browser.Locator   `yaml:"submit"`
	Heading     browser.Locator   `yaml:"heading"`
	Overlays    []browser.Locator `yaml:"overlays"`

	// TaxIDLabels and RepresentativeLabels are matched against table label
	// cells after diacritic folding; the value is the next cell.
	TaxIDLabels          []string `yaml:"tax_id_labels"`
	TaxIDFallback        string   `yaml:"tax_id_fallback"`
	RepresentativeLabels []string `yaml:"representative_labels"`
	NameFallback         string   `yaml:"name_fallback"`

	// ListingMarker appears in the URL of a search-results listing page.
	ListingMarker string `yaml:"listing_marker"`

	ClearScript string `yaml:"clear_script"`
	ClickScript string `yaml:"click_script"`
}

// DefaultProfile returns the profile for masothue.com.
func DefaultProfile() Profile {
	return Profile{
		Name:                 "masothue",
		BaseURL:              "https://masothue.com",
		SearchInput:          browser.CSS("input[name='q']"),
		Submit:               browser.CSS("button.search-btn, button[type='submit']"),
		Heading:              browser.CSS("h1"),
		Overlays:             append([]browser.Locator(nil), obstacle.DefaultOverlays...),
		TaxIDLabels:          []string{"Mã số thuế"},
		TaxIDFallback:        "[itemprop='taxID']",
		RepresentativeLabels: []string{"Người đại diện"},
		NameFallback:         "[itemprop='name']",
		ListingMarker:        "Search",
		ClearScript:          clearScript,
		ClickScript:          clickScript,
	}
}

// LoadProfile reads a YAML profile from path over DefaultProfile. Keys that
// are absent keep their default; lists given in the file replace the default
// list. An empty path returns the default profile.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, eris.Wrapf(err, "lookup: read profile %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, eris.Wrapf(err, "lookup: parse profile %s", path)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, eris.Wrapf(err, "lookup: profile %s", path)
	}
	return p, nil
}

// Validate checks that the fields the machine cannot work without are set.
func (p Profile) Validate() error {
	switch {
	case p.BaseURL == "":
		return eris.New("base_url is required")
	case p.SearchInput.Value == "":
		return eris.New("search_input is required")
	case p.Submit.Value == "":
		return eris.New("submit is required")
	case p.Heading.Value == "":
		return eris.New("heading is required")
	}
	return nil
}
