// Package opening serves the static opening book keyed by position
// fingerprint.
//
// The book ships as a tab-separated table of `eco \t name \t epd` rows
// embedded at build time and loaded once into a map. The EPD key is the
// first four space-separated FEN fields.
package opening

import (
	_ "embed"
	"strings"
)

//go:embed openings.tsv
var rawBook string

// Opening is one named book entry.
type Opening struct {
	Eco  string `json:"eco"`
	Name string `json:"name"`
}

var book = loadBook(rawBook)

func loadBook(raw string) map[string]*Opening {
	m := make(map[string]*Opening, 4096)
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		m[fields[2]] = &Opening{Eco: fields[0], Name: fields[1]}
	}
	return m
}

// Lookup returns the book entry for a position, or nil. The input may be
// a full FEN; only its first four fields take part in the key. Crazyhouse
// pockets and three-check counters must already be stripped by the caller.
func Lookup(fen string) *Opening {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return nil
	}
	return book[strings.Join(fields[:4], " ")]
}

// Size reports how many positions the loaded book holds.
func Size() int { return len(book) }
