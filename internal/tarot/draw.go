package tarot

// Draw picks n unique cards from deck, skipping any card whose ID is in
// exclude. Positions continue after the excluded cards, so a partial draw
// followed by another Draw yields consecutive 1-based positions.
// Orientation is 50/50 when allowReversed is set, otherwise always upright.
func Draw(deck Deck, n int, exclude []string, allowReversed bool, rng RNG) ([]DrawnCard, error) {
	if n < 1 {
		return nil, ErrInvalidN
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	pool := make([]Card, 0, len(deck.Cards))
	for _, c := range deck.Cards {
		if _, ok := skip[c.ID]; !ok {
			pool = append(pool, c)
		}
	}
	if n > len(pool) {
		return nil, ErrNExceedsDeck
	}

	// Fisher-Yates over the remaining pool.
	for i := len(pool) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}

	cards := make([]DrawnCard, n)
	for i := range n {
		orientation := Upright
		if allowReversed && rng.Intn(2) == 1 {
			orientation = Reversed
		}
		cards[i] = DrawnCard{
			Card:        pool[i],
			Position:    len(exclude) + i + 1,
			Orientation: orientation,
		}
	}
	return cards, nil
}
