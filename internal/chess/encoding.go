// Package chess implements the gateway's local analysis responder:
// opening lookup, legal-destination computation and move/drop application
// over the supported variants.
//
// Move generation for standard-rules positions is delegated to
// github.com/notnil/chess; this package adds the variant layer (racing
// kings move filtering, crazyhouse pockets and drops, three-check
// counters) and the compact wire encodings the browser expects.
package chess

import (
	"errors"
	"strings"
)

var ErrEncoding = errors.New("chess: invalid encoding input")

// Piotr packs a square index 0-63 into one printable character. The
// encoding is stable wire format shared with the browser.
func Piotr(sq int) byte {
	switch {
	case sq < 26:
		return 'a' + byte(sq)
	case sq < 52:
		return 'A' + byte(sq-26)
	case sq < 62:
		return '0' + byte(sq-52)
	case sq == 62:
		return '!'
	default:
		return '?'
	}
}

// promotion ranks for the char-pair encoding
var promoRank = map[byte]int{'q': 0, 'r': 1, 'b': 2, 'n': 3, 'k': 4}

// drop role ranks for the char-pair encoding
var dropRank = map[byte]int{'Q': 0, 'R': 1, 'B': 2, 'N': 3, 'P': 4}

// UciCharPair encodes a UCI move in exactly two characters:
//
//	normal move:  square_id(orig) square_id(dest)
//	promotion:    square_id(orig) then 35+64 + promotion_rank*8 + dest_file
//	drop:         square_id(dest) then 35+64+40 + role_rank
//	null move:    "##"
//
// where square_id is the square index + 35.
func UciCharPair(uci string) (string, error) {
	if uci == "0000" {
		return "##", nil
	}

	if i := strings.IndexByte(uci, '@'); i == 1 && len(uci) == 4 {
		// drop, e.g. N@e4
		rank, ok := dropRank[uci[0]]
		if !ok {
			return "", ErrEncoding
		}
		dest, err := parseSquare(uci[2:4])
		if err != nil {
			return "", err
		}
		return string([]rune{rune(dest + 35), rune(35 + 64 + 40 + rank)}), nil
	}

	if len(uci) != 4 && len(uci) != 5 {
		return "", ErrEncoding
	}
	orig, err := parseSquare(uci[0:2])
	if err != nil {
		return "", err
	}
	dest, err := parseSquare(uci[2:4])
	if err != nil {
		return "", err
	}

	if len(uci) == 5 {
		rank, ok := promoRank[uci[4]]
		if !ok {
			return "", ErrEncoding
		}
		return string([]rune{rune(orig + 35), rune(35 + 64 + rank*8 + dest%8)}), nil
	}

	return string([]rune{rune(orig + 35), rune(dest + 35)}), nil
}

func parseSquare(s string) (int, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, ErrEncoding
	}
	return int(s[1]-'1')*8 + int(s[0]-'a'), nil
}

func squareName(sq int) string {
	return string([]byte{'a' + byte(sq%8), '1' + byte(sq/8)})
}
