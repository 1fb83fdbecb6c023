package tarot

import "errors"

var (
	ErrInvalidN       = errors.New("n must be at least 1")
	ErrNExceedsDeck   = errors.New("n exceeds number of cards left in deck")
	ErrDeckNotFound   = errors.New("deck not found")
	ErrSpreadNotFound = errors.New("spread not found")
)
