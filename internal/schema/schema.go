// Package schema holds the harvester variants: where to search, how results
// are discovered and which fields each listing yields.
package schema

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/maltedev/listing-harvester/internal/locator"
	"github.com/maltedev/listing-harvester/internal/models"
)

var ErrUnknownVariant = errors.New("unknown variant")

// Activation says how a listing reference exposes its fields.
type Activation int

const (
	// ActivateClick opens a detail panel; fields resolve against the page.
	ActivateClick Activation = iota
	// ActivateInline resolves fields inside the reference element itself.
	ActivateInline
)

func (a Activation) String() string {
	if a == ActivateInline {
		return "inline"
	}
	return "click"
}

// Schema is the ordered field list of one variant.
type Schema []locator.FieldSpec

func (s Schema) Keys() []string {
	keys := make([]string, len(s))
	for i, f := range s {
		keys[i] = f.Name
	}
	return keys
}

// Header is the output column order: index, the schema keys, scraped_at.
func (s Schema) Header() []string {
	return append(append([]string{models.KeyIndex}, s.Keys()...), models.KeyScrapedAt)
}

// Variant is fixed configuration for one site. Values returned by the
// constructors are fresh copies; callers never share mutable state.
type Variant struct {
	Name      string
	searchURL func(query, location string) string

	// ResultsSelector confirms the results surface rendered.
	ResultsSelector string
	// Containers are the scrollable result panel candidates. Window scrolls
	// the document instead.
	Containers []string
	Window     bool
	// References are tried in order; the first selector with any match wins.
	References []string

	Activation Activation
	// DetailSelector signals a rendered detail panel (click activation only).
	DetailSelector string
	// AwaitURLChange also waits for the page URL to move after a click.
	AwaitURLChange bool

	Schema Schema
}

// SearchURL builds the navigation target for a query.
func (v Variant) SearchURL(query, location string) string {
	return v.searchURL(strings.TrimSpace(query), strings.TrimSpace(location))
}

var registry = map[string]func() Variant{
	"maps":      Maps,
	"tokopedia": Tokopedia,
	"google":    Google,
}

func Lookup(name string) (Variant, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownVariant, name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func joinQuery(query, location string) string {
	if location == "" {
		return query
	}
	return query + " " + location
}

// Maps harvests Google Maps business listings. Each card is clicked and the
// detail panel read.
func Maps() Variant {
	return Variant{
		Name: "maps",
		searchURL: func(query, location string) string {
			term := strings.ReplaceAll(url.PathEscape(joinQuery(query, location)), "%20", "+")
			return "https://www.google.com/maps/search/" + term
		},
		ResultsSelector: "div[role='feed'], div.Nv2PK, a.hfpxzc",
		Containers:      []string{"div[role='feed']", "div.m6QErb", "div[aria-label*='Results']"},
		References:      []string{"div.Nv2PK", "a.hfpxzc", "div[role='article']", "div.lI9IFe"},
		Activation:      ActivateClick,
		DetailSelector:  "h1.DUwDvf",
		AwaitURLChange:  true,
		Schema: Schema{
			{Name: "name", Candidates: []locator.Candidate{
				{Strategy: locator.ByCSSClass, Selector: "h1.DUwDvf"},
				{Strategy: locator.ByStableAttribute, Selector: "div[role='main'] h1"},
			}},
			{Name: "category", Candidates: []locator.Candidate{
				{Strategy: locator.ByCSSClass, Selector: "button.DkEaL"},
				{Strategy: locator.ByStableAttribute, Selector: "button[jsaction*='category']"},
			}},
			{Name: "rating", Candidates: []locator.Candidate{
				{Strategy: locator.ByCSSClass, Selector: "div.F7nice span[aria-hidden='true']", Refine: locator.FirstNumericToken},
				{Strategy: locator.ByCSSClass, Selector: "span.ceNzKf", Refine: locator.FirstNumericToken},
				{Strategy: locator.ByCSSClass, Selector: "div.fontDisplayLarge", Refine: locator.FirstNumericToken},
			}},
			{Name: "total_reviews", Candidates: []locator.Candidate{
				{Strategy: locator.ByARIALabel, Selector: "div.F7nice span[aria-label*='reviews']", Refine: locator.Parenthesized},
				{Strategy: locator.ByARIALabel, Selector: "div.F7nice span[aria-label*='ulasan']", Refine: locator.Parenthesized},
				{Strategy: locator.ByCSSClass, Selector: "button.HHrUdb span", Refine: locator.Parenthesized},
				{Strategy: locator.ByCSSClass, Selector: "span.RDApEe", Refine: locator.Parenthesized},
			}},
			{Name: "address", Candidates: []locator.Candidate{
				{Strategy: locator.ByStableAttribute, Selector: "button[data-item-id='address'] div.fontBodyMedium"},
				{Strategy: locator.ByCSSClass, Selector: "button[data-item-id='address'] div.Io6YTe"},
				{Strategy: locator.ByARIALabel, Selector: "button[data-tooltip='Copy address']", Mode: locator.ModeTextOrAttribute, Attribute: "aria-label", Refine: locator.AfterLabel},
			}},
			{Name: "phone", Candidates: []locator.Candidate{
				{Strategy: locator.ByStableAttribute, Selector: "button[data-item-id*='phone'] div.fontBodyMedium"},
				{Strategy: locator.ByARIALabel, Selector: "button[aria-label*='Phone']", Mode: locator.ModeTextOrAttribute, Attribute: "aria-label", Refine: locator.AfterLabel},
				{Strategy: locator.ByHref, Selector: "a[href^='tel:']", Mode: locator.ModeTextOrAttribute, Attribute: "href", Refine: locator.StripTel},
			}},
			{Name: "website", Candidates: []locator.Candidate{
				{Strategy: locator.ByStableAttribute, Selector: "a[data-item-id='authority']", Mode: locator.ModeAttribute, Attribute: "href", Refine: locator.HTTPOnly},
				{Strategy: locator.ByStableAttribute, Selector: "a[data-item-id='authority']"},
				{Strategy: locator.ByStableAttribute, Selector: "button[data-item-id='authority'] div.fontBodyMedium"},
				{Strategy: locator.ByARIALabel, Selector: "a[aria-label*='Website']", Mode: locator.ModeAttributeOrText, Attribute: "href"},
			}},
			{Name: "hours", Candidates: []locator.Candidate{
				{Strategy: locator.ByARIALabel, Selector: "button[aria-label*='Hours']", Mode: locator.ModeAttribute, Attribute: "aria-label"},
				{Strategy: locator.ByARIALabel, Selector: "div[aria-label*='Jam']", Mode: locator.ModeAttribute, Attribute: "aria-label"},
			}},
			{Name: "coordinates", Candidates: []locator.Candidate{
				{Strategy: locator.ByURL, Mode: locator.ModeURLCoordinates},
			}},
		},
	}
}

// Tokopedia harvests product search cards inline; the page itself scrolls.
func Tokopedia() Variant {
	return Variant{
		Name: "tokopedia",
		searchURL: func(query, location string) string {
			return "https://www.tokopedia.com/search?st=product&q=" + url.QueryEscape(joinQuery(query, location))
		},
		ResultsSelector: "div[data-testid='master-product-card'], div[data-testid='divProductWrapper'], div.pcv3__container",
		Window:          true,
		References: []string{
			"div[data-testid='master-product-card']",
			"div[data-testid='divProductWrapper']",
			"div.css-1sn1xa2",
			"div.pcv3__container",
		},
		Activation: ActivateInline,
		Schema: Schema{
			{Name: "name", Candidates: []locator.Candidate{
				{Strategy: locator.ByCSSClass, Selector: "span[class*='prd_link-product-name']"},
				{Strategy: locator.ByCSSClass, Selector: "div.prd_link-product-name"},
				{Strategy: locator.ByCSSClass, Selector: "span.css-20kt3o"},
				{Strategy: locator.ByStableAttribute, Selector: "div[data-testid='spnSRPProdName']"},
			}},
			{Name: "price", Candidates: []locator.Candidate{
				{Strategy: locator.ByCSSClass, Selector: "span[class*='prd_link-product-price']"},
				{Strategy: locator.ByCSSClass, Selector: "div.prd_link-product-price"},
				{Strategy: locator.ByCSSClass, Selector: "span.css-o5uqvq"},
				{Strategy: locator.ByStableAttribute, Selector: "div[data-testid='spnSRPProdPrice']"},
			}},
			{Name: "rating", Candidates: []locator.Candidate{
				{Strategy: locator.ByCSSClass, Selector: "span[class*='rating']"},
				{Strategy: locator.ByCSSClass, Selector: "span.css-t70v7i"},
				{Strategy: locator.ByStableAttribute, Selector: "div[data-testid='spnSRPProdRating']"},
			}},
			{Name: "shop", Candidates: []locator.Candidate{
				{Strategy: locator.ByCSSClass, Selector: "span[class*='prd_link-shop-name']"},
				{Strategy: locator.ByCSSClass, Selector: "span.css-1kr22w3"},
				{Strategy: locator.ByStableAttribute, Selector: "div[data-testid='spnSRPProdShop']"},
			}},
			{Name: "location", Candidates: []locator.Candidate{
				{Strategy: locator.ByCSSClass, Selector: "span[class*='prd_link-shop-loc']"},
				{Strategy: locator.ByCSSClass, Selector: "span.css-1kdc32b"},
				{Strategy: locator.ByStableAttribute, Selector: "div[data-testid='spnSRPProdLoc']"},
			}},
			{Name: "link", Candidates: []locator.Candidate{
				{Strategy: locator.ByHref, Selector: "a", Mode: locator.ModeAttribute, Attribute: "href"},
			}},
		},
	}
}

// Google harvests organic web search results inline.
func Google() Variant {
	return Variant{
		Name: "google",
		searchURL: func(query, location string) string {
			return "https://www.google.com/search?q=" + url.QueryEscape(joinQuery(query, location))
		},
		ResultsSelector: "div#search, div.g",
		Window:          true,
		References:      []string{"div.g", "div.MjjYud"},
		Activation:      ActivateInline,
		Schema: Schema{
			{Name: "title", Candidates: []locator.Candidate{
				{Strategy: locator.ByCSSClass, Selector: "h3"},
			}},
			{Name: "link", Candidates: []locator.Candidate{
				{Strategy: locator.ByHref, Selector: "a", Mode: locator.ModeAttribute, Attribute: "href", Refine: locator.HTTPOnly},
			}},
			{Name: "description", Candidates: []locator.Candidate{
				{Strategy: locator.ByStableAttribute, Selector: "div[data-sncf='1']"},
				{Strategy: locator.ByCSSClass, Selector: "div.VwiC3b"},
			}},
		},
	}
}
