package tarot

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.json data/spreads.yaml
var dataFS embed.FS

// deckFiles maps deck IDs to their JSON filenames inside data/.
var deckFiles = map[string]string{
	"major_arcana": "data/major_arcana.json",
}

// DefaultDeckID is used when a reading does not name a deck.
const DefaultDeckID = "major_arcana"

// Catalog serves the embedded decks and spreads. It is loaded lazily once.
type Catalog struct {
	once    sync.Once
	decks   map[string]Deck
	spreads []Spread
	err     error
}

func NewCatalog() *Catalog {
	return &Catalog{}
}

func (c *Catalog) load() {
	c.decks = make(map[string]Deck, len(deckFiles))
	for id, filename := range deckFiles {
		raw, err := dataFS.ReadFile(filename)
		if err != nil {
			c.err = fmt.Errorf("reading embedded deck %s: %w", id, err)
			return
		}
		var deck Deck
		if err := json.Unmarshal(raw, &deck); err != nil {
			c.err = fmt.Errorf("parsing embedded deck %s: %w", id, err)
			return
		}
		deck.ID = id
		c.decks[id] = deck
	}

	raw, err := dataFS.ReadFile("data/spreads.yaml")
	if err != nil {
		c.err = fmt.Errorf("reading spreads: %w", err)
		return
	}
	var doc struct {
		Spreads []Spread `yaml:"spreads"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		c.err = fmt.Errorf("parsing spreads: %w", err)
		return
	}
	for _, s := range doc.Spreads {
		if s.ID == "" || len(s.Positions) == 0 {
			c.err = fmt.Errorf("spread %q has no id or positions", s.Name)
			return
		}
	}
	c.spreads = doc.Spreads
}

// Deck returns the deck with the given id.
func (c *Catalog) Deck(_ context.Context, deckID string) (Deck, error) {
	c.once.Do(c.load)
	if c.err != nil {
		return Deck{}, c.err
	}
	deck, ok := c.decks[deckID]
	if !ok {
		return Deck{}, ErrDeckNotFound
	}
	return deck, nil
}

// DeckIDs lists the known deck ids in sorted order.
func (c *Catalog) DeckIDs() []string {
	c.once.Do(c.load)
	ids := make([]string, 0, len(c.decks))
	for id := range c.decks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Spread returns the spread with the given id.
func (c *Catalog) Spread(id string) (Spread, error) {
	c.once.Do(c.load)
	if c.err != nil {
		return Spread{}, c.err
	}
	for _, s := range c.spreads {
		if s.ID == id {
			return s, nil
		}
	}
	return Spread{}, ErrSpreadNotFound
}

// Spreads returns all spreads in catalog order.
func (c *Catalog) Spreads() ([]Spread, error) {
	c.once.Do(c.load)
	if c.err != nil {
		return nil, c.err
	}
	out := make([]Spread, len(c.spreads))
	copy(out, c.spreads)
	return out, nil
}

// Dealer draws cards from catalog decks with the given RNG.
type Dealer struct {
	catalog *Catalog
	rng     RNG
	mu      sync.Mutex
}

func NewDealer(catalog *Catalog, rng RNG) *Dealer {
	return &Dealer{catalog: catalog, rng: rng}
}

// Draw draws n cards from deckID, excluding the ids already on the table.
func (d *Dealer) Draw(ctx context.Context, deckID string, n int, exclude []string, allowReversed bool) ([]DrawnCard, error) {
	deck, err := d.catalog.Deck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	// RNG implementations are not required to be safe for concurrent use.
	d.mu.Lock()
	defer d.mu.Unlock()
	return Draw(deck, n, exclude, allowReversed, d.rng)
}
