package lexicon

import (
	_ "embed"
	"os"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed table.yaml
var defaultTableRaw []byte

const defaultMaxRelatedTerms = 24

// Table is the synonym and semantic-category vocabulary. It is immutable once built and
// shared read-only by the Enricher and the Expander.
type Table struct {
	version    string
	maxRelated int
	groups     []*group
	// phrases indexes every member phrase by its first token, longest phrase first
	phrases map[string][]*phrase
}

type group struct {
	members    []string
	categories []string
}

type phrase struct {
	text   string
	tokens []string
	group  *group
}

type termConfig struct {
	Term       string   `yaml:"term"`
	Synonyms   []string `yaml:"synonyms"`
	Categories []string `yaml:"categories"`
}

type tableConfig struct {
	Version         string       `yaml:"version"`
	MaxRelatedTerms int          `yaml:"max_related_terms"`
	Terms           []termConfig `yaml:"terms"`
}

var defaultTable = sync.OnceValues(func() (*Table, error) {
	return Parse(defaultTableRaw)
})

// Default returns the table embedded in the binary. It is parsed once per process.
func Default() (*Table, error) {
	return defaultTable()
}

// Load reads a table from a YAML file. An empty path returns the embedded table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read lexicon file", goerr.V("path", path))
	}

	table, err := Parse(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse lexicon file", goerr.V("path", path))
	}
	return table, nil
}

// Parse builds a table from YAML
func Parse(raw []byte) (*Table, error) {
	var cfg tableConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal lexicon")
	}
	if cfg.Version == "" {
		return nil, goerr.New("lexicon version is required")
	}

	t := &Table{
		version:    cfg.Version,
		maxRelated: cfg.MaxRelatedTerms,
		phrases:    make(map[string][]*phrase),
	}
	if t.maxRelated <= 0 {
		t.maxRelated = defaultMaxRelatedTerms
	}

	owner := make(map[string]string)
	for _, term := range cfg.Terms {
		g := &group{}
		for _, m := range append([]string{term.Term}, term.Synonyms...) {
			tokens := Tokenize(m)
			if len(tokens) == 0 {
				return nil, goerr.New("empty lexicon term", goerr.V("term", term.Term))
			}
			text := strings.Join(tokens, " ")
			if prev, ok := owner[text]; ok {
				return nil, goerr.New("lexicon term defined twice",
					goerr.V("term", text), goerr.V("first", prev), goerr.V("second", term.Term))
			}
			owner[text] = term.Term

			g.members = append(g.members, text)
			t.phrases[tokens[0]] = append(t.phrases[tokens[0]], &phrase{text: text, tokens: tokens, group: g})
		}
		for _, c := range term.Categories {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" && !slices.Contains(g.categories, c) {
				g.categories = append(g.categories, c)
			}
		}
		t.groups = append(t.groups, g)
	}

	for _, list := range t.phrases {
		slices.SortStableFunc(list, func(a, b *phrase) int {
			return len(b.tokens) - len(a.tokens)
		})
	}

	return t, nil
}

// Version identifies the vocabulary. Vectors enriched with another version need re-embedding.
func (t *Table) Version() string {
	return t.version
}

// MaxRelatedTerms is the cap on terms added to one text
func (t *Table) MaxRelatedTerms() int {
	return t.maxRelated
}

// Related returns the synonyms and categories of every vocabulary term recognized in text,
// in order of appearance, excluding the terms literally present. At most MaxRelatedTerms are
// returned.
func (t *Table) Related(text string) []string {
	tokens := Tokenize(text)

	var (
		matched []*group
		present = make(map[string]struct{})
	)
	for i := 0; i < len(tokens); {
		p := t.match(tokens[i:])
		if p == nil {
			i++
			continue
		}
		present[p.text] = struct{}{}
		if !slices.Contains(matched, p.group) {
			matched = append(matched, p.group)
		}
		i += len(p.tokens)
	}

	related := make([]string, 0, t.maxRelated)
	add := func(term string) bool {
		if _, ok := present[term]; ok || slices.Contains(related, term) {
			return true
		}
		related = append(related, term)
		return len(related) < t.maxRelated
	}

	for _, g := range matched {
		for _, m := range g.members {
			if !add(m) {
				return related
			}
		}
		for _, c := range g.categories {
			if !add(c) {
				return related
			}
		}
	}
	return related
}

// match returns the longest member phrase at the head of tokens
func (t *Table) match(tokens []string) *phrase {
	for _, p := range t.phrases[tokens[0]] {
		if len(p.tokens) <= len(tokens) && slices.Equal(p.tokens, tokens[:len(p.tokens)]) {
			return p
		}
	}

	// plural fallback for single words: "bills" -> "bill"
	for _, suffix := range []string{"es", "s"} {
		stem, ok := strings.CutSuffix(tokens[0], suffix)
		if !ok || len(stem) < 3 {
			continue
		}
		for _, p := range t.phrases[stem] {
			if len(p.tokens) == 1 {
				return &phrase{text: tokens[0], tokens: tokens[:1], group: p.group}
			}
		}
	}
	return nil
}

// Tokenize splits text into lower-case words
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})

	tokens := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'-"); f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
