package scrape

import (
	"net/url"
	"os"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Source is one registry site in a locale's fallback chain.
type Source struct {
	Name string `yaml:"name"`
	// URLTemplate may reference {id}, {id_compact} and {name_slug}.
	URLTemplate string `yaml:"url_template"`
	// Unit is the page-wide multiplier for money figures when values carry no
	// unit of their own ("thousand" for sites that publish in tkr).
	Unit string `yaml:"unit,omitempty"`
}

// LocaleSources is the ordered chain for one locale.
type LocaleSources struct {
	Currency string   `yaml:"currency"`
	Sources  []Source `yaml:"sources"`
}

// Catalog maps each locale to its ordered sources.
type Catalog map[Locale]LocaleSources

// DefaultCatalog returns the built-in source chains.
func DefaultCatalog() Catalog {
	return Catalog{
		LocaleFI: {
			Currency: "EUR",
			Sources: []Source{
				{Name: "finder", URLTemplate: "https://www.finder.fi/search?what={id}"},
				{Name: "asiakastieto", URLTemplate: "https://www.asiakastieto.fi/yritykset/fi/{name_slug}/{id_compact}/taloustiedot"},
				{Name: "kauppalehti", URLTemplate: "https://www.kauppalehti.fi/yritykset/yritys/{name_slug}/{id_compact}"},
			},
		},
		LocaleSE: {
			Currency: "SEK",
			Sources: []Source{
				{Name: "allabolag", URLTemplate: "https://www.allabolag.se/{id_compact}/bokslut", Unit: "thousand"},
				{Name: "merinfo", URLTemplate: "https://www.merinfo.se/search?q={id_compact}"},
				{Name: "ratsit", URLTemplate: "https://www.ratsit.se/{id_compact}-{name_slug}"},
			},
		},
	}
}

// ParseCatalog decodes a YAML catalog. Locales present in data replace the
// built-in chain for that locale; others keep the defaults.
func ParseCatalog(data []byte) (Catalog, error) {
	var raw map[string]LocaleSources
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "scrape: parse catalog")
	}
	cat := DefaultCatalog()
	for key, ls := range raw {
		loc, ok := ParseLocale(key)
		if !ok {
			return nil, eris.Errorf("scrape: catalog: unsupported locale %q", key)
		}
		for i, s := range ls.Sources {
			if s.Name == "" || s.URLTemplate == "" {
				return nil, eris.Errorf("scrape: catalog: %s source %d needs name and url_template", key, i)
			}
		}
		if ls.Currency == "" {
			ls.Currency = cat[loc].Currency
		}
		cat[loc] = ls
	}
	return cat, nil
}

// LoadCatalog reads a YAML catalog file. An empty path yields the defaults.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: read catalog %s", path)
	}
	return ParseCatalog(data)
}

// Sources returns the chain for locale.
func (c Catalog) Sources(l Locale) []Source {
	return c[l].Sources
}

// SourceNames lists the source names for locale in chain order.
func (c Catalog) SourceNames(l Locale) []string {
	srcs := c.Sources(l)
	names := make([]string, len(srcs))
	for i, s := range srcs {
		names[i] = s.Name
	}
	return names
}

// Domains lists the distinct hostnames of locale's sources without a
// leading "www.", for narrowing grounded search.
func (c Catalog) Domains(l Locale) []string {
	blank := strings.NewReplacer("{id}", "x", "{id_compact}", "x", "{name_slug}", "x")
	var out []string
	for _, s := range c.Sources(l) {
		u, err := url.Parse(blank.Replace(s.URLTemplate))
		if err != nil || u.Hostname() == "" {
			continue
		}
		out = appendUnique(out, strings.TrimPrefix(u.Hostname(), "www."))
	}
	return out
}

// URL renders the candidate URL for one company.
func (s Source) URL(id Identifier, companyName string) string {
	r := strings.NewReplacer(
		"{id}", url.QueryEscape(id.Canonical),
		"{id_compact}", id.Compact,
		"{name_slug}", Slug(companyName),
	)
	return r.Replace(s.URLTemplate)
}

// Slug lowercases name, folds diacritics and joins words with hyphens:
// "Åkerö Bygg AB" becomes "akero-bygg-ab".
func Slug(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(name))
	if err != nil {
		folded = strings.ToLower(name)
	}
	var b strings.Builder
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
