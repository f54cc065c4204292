package chess

import (
	"errors"
	"strconv"
	"strings"
)

var ErrFen = errors.New("chess: invalid fen")

// pocket is the reserve of one side in crazyhouse, counted per role.
type pocket struct {
	Pawn   int `json:"pawn,omitempty"`
	Knight int `json:"knight,omitempty"`
	Bishop int `json:"bishop,omitempty"`
	Rook   int `json:"rook,omitempty"`
	Queen  int `json:"queen,omitempty"`
}

func (p *pocket) get(role byte) int {
	switch role {
	case 'p':
		return p.Pawn
	case 'n':
		return p.Knight
	case 'b':
		return p.Bishop
	case 'r':
		return p.Rook
	case 'q':
		return p.Queen
	}
	return 0
}

func (p *pocket) add(role byte, n int) {
	switch role {
	case 'p':
		p.Pawn += n
	case 'n':
		p.Knight += n
	case 'b':
		p.Bishop += n
	case 'r':
		p.Rook += n
	case 'q':
		p.Queen += n
	}
}

func (p *pocket) empty() bool {
	return p.Pawn == 0 && p.Knight == 0 && p.Bishop == 0 && p.Rook == 0 && p.Queen == 0
}

func (p *pocket) letters(upper bool) string {
	var b strings.Builder
	order := []struct {
		role byte
		n    int
	}{{'q', p.Queen}, {'r', p.Rook}, {'b', p.Bishop}, {'n', p.Knight}, {'p', p.Pawn}}
	for _, e := range order {
		c := e.role
		if upper {
			c = c - 'a' + 'A'
		}
		for i := 0; i < e.n; i++ {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// pockets holds both reserves, white first.
type pockets struct {
	White pocket `json:"white"`
	Black pocket `json:"black"`
}

// fenParts is a lichess-flavored FEN decomposed into the pieces the
// variant layer cares about. The plain six-field remainder is what the
// move generator sees.
type fenParts struct {
	board    string // piece placement, pockets and promotion markers stripped
	turn     string
	castling string
	ep       string
	halfmove int
	fullmove int

	pockets  *pockets     // crazyhouse bracket suffix, nil otherwise
	promoted map[int]bool // squares holding promoted pieces (crazyhouse "~")
	checks   *[2]int      // remaining checks {white, black} (three-check)
}

// parseFen splits a raw FEN into parts, normalizing the quirks of the
// variant encodings: a "[QRb]" pocket suffix or an extra slash-rank on
// the board field, "~" promotion markers, and an "N+M" remaining-checks
// field between the en-passant and halfmove fields.
func parseFen(raw string) (*fenParts, error) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return nil, ErrFen
	}

	p := &fenParts{
		turn:     fields[1],
		castling: "-",
		ep:       "-",
		halfmove: 0,
		fullmove: 1,
	}
	if p.turn != "w" && p.turn != "b" {
		return nil, ErrFen
	}

	board := fields[0]
	if i := strings.IndexByte(board, '['); i >= 0 {
		if !strings.HasSuffix(board, "]") {
			return nil, ErrFen
		}
		pk, err := parsePocket(board[i+1 : len(board)-1])
		if err != nil {
			return nil, err
		}
		p.pockets = pk
		board = board[:i]
	} else if strings.Count(board, "/") == 8 {
		// pocket written as a ninth rank, e.g. ".../RNBQKBNR/QRb"
		i := strings.LastIndexByte(board, '/')
		pk, err := parsePocket(board[i+1:])
		if err != nil {
			return nil, err
		}
		p.pockets = pk
		board = board[:i]
	}
	board, promoted, err := stripPromoted(board)
	if err != nil {
		return nil, err
	}
	p.board = board
	p.promoted = promoted

	rest := fields[2:]
	if len(rest) > 0 {
		p.castling = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		p.ep = rest[0]
		rest = rest[1:]
	}
	// optional remaining-checks field, e.g. "3+3"
	if len(rest) > 0 && strings.ContainsRune(rest[0], '+') {
		w, b, ok := strings.Cut(strings.TrimPrefix(rest[0], "+"), "+")
		wn, err1 := strconv.Atoi(w)
		bn, err2 := strconv.Atoi(b)
		if !ok || err1 != nil || err2 != nil {
			return nil, ErrFen
		}
		p.checks = &[2]int{wn, bn}
		rest = rest[1:]
	}
	if len(rest) > 0 {
		n, err := strconv.Atoi(rest[0])
		if err != nil || n < 0 {
			return nil, ErrFen
		}
		p.halfmove = n
		rest = rest[1:]
	}
	if len(rest) > 0 {
		n, err := strconv.Atoi(rest[0])
		if err != nil || n < 1 {
			return nil, ErrFen
		}
		p.fullmove = n
	}

	return p, nil
}

// plain renders the six-field FEN the move generator understands.
func (p *fenParts) plain() string {
	return p.board + " " + p.turn + " " + p.castling + " " + p.ep + " " +
		strconv.Itoa(p.halfmove) + " " + strconv.Itoa(p.fullmove)
}

// render rebuilds the lichess-flavored FEN from a plain six-field FEN
// produced by the move generator, re-inserting promotion markers, the
// pocket suffix and the remaining-checks field.
func render(plainFen string, promoted map[int]bool, pk *pockets, checks *[2]int) string {
	fields := strings.Fields(plainFen)
	if len(fields) != 6 {
		return plainFen
	}
	board := fields[0]
	if len(promoted) > 0 {
		board = markPromoted(board, promoted)
	}
	if pk != nil {
		board += "[" + pk.White.letters(true) + pk.Black.letters(false) + "]"
	}
	out := []string{board, fields[1], fields[2], fields[3]}
	if checks != nil {
		out = append(out, strconv.Itoa(checks[0])+"+"+strconv.Itoa(checks[1]))
	}
	out = append(out, fields[4], fields[5])
	return strings.Join(out, " ")
}

func parsePocket(s string) (*pockets, error) {
	pk := &pockets{}
	for i := 0; i < len(s); i++ {
		c := s[i]
		lower := c | 0x20
		switch lower {
		case 'p', 'n', 'b', 'r', 'q':
		default:
			return nil, ErrFen
		}
		if c >= 'A' && c <= 'Z' {
			pk.White.add(lower, 1)
		} else {
			pk.Black.add(lower, 1)
		}
	}
	return pk, nil
}

// stripPromoted removes "~" markers from a piece placement field and
// records which squares carried them.
func stripPromoted(board string) (string, map[int]bool, error) {
	if !strings.ContainsRune(board, '~') {
		return board, nil, nil
	}
	promoted := make(map[int]bool)
	var b strings.Builder
	rank, file := 7, 0
	for i := 0; i < len(board); i++ {
		c := board[i]
		switch {
		case c == '~':
			if file == 0 {
				return "", nil, ErrFen
			}
			promoted[rank*8+file-1] = true
			continue
		case c == '/':
			rank--
			file = 0
		case c >= '1' && c <= '8':
			file += int(c - '0')
		default:
			file++
		}
		b.WriteByte(c)
	}
	return b.String(), promoted, nil
}

// markPromoted re-inserts "~" markers after the pieces on the given
// squares.
func markPromoted(board string, promoted map[int]bool) string {
	var b strings.Builder
	rank, file := 7, 0
	for i := 0; i < len(board); i++ {
		c := board[i]
		b.WriteByte(c)
		switch {
		case c == '/':
			rank--
			file = 0
		case c >= '1' && c <= '8':
			file += int(c - '0')
		default:
			if promoted[rank*8+file] {
				b.WriteByte('~')
			}
			file++
		}
	}
	return b.String()
}

// boardArray is a plain 64-square mailbox derived from the placement
// field, used for castling validation and the attack calculator. Index 0
// is a1, 63 is h8. Empty squares hold 0; pieces hold their FEN letter.
type boardArray [64]byte

func parseBoard(board string) (boardArray, error) {
	var a boardArray
	ranks := strings.Split(board, "/")
	if len(ranks) != 8 {
		return a, ErrFen
	}
	for r, rankStr := range ranks {
		rank := 7 - r
		file := 0
		for i := 0; i < len(rankStr); i++ {
			c := rankStr[i]
			if c >= '1' && c <= '8' {
				file += int(c - '0')
				continue
			}
			switch c | 0x20 {
			case 'p', 'n', 'b', 'r', 'q', 'k':
			default:
				return a, ErrFen
			}
			if file > 7 {
				return a, ErrFen
			}
			a[rank*8+file] = c
			file++
		}
		if file != 8 {
			return a, ErrFen
		}
	}
	return a, nil
}

func isWhitePiece(c byte) bool { return c >= 'A' && c <= 'Z' }

// validateCastling rejects castling rights that do not match the piece
// placement: each right requires the king on its home square and the
// corresponding rook on its home corner.
func validateCastling(a boardArray, castling string) error {
	if castling == "-" {
		return nil
	}
	for i := 0; i < len(castling); i++ {
		switch castling[i] {
		case 'K':
			if a[4] != 'K' || a[7] != 'R' {
				return ErrFen
			}
		case 'Q':
			if a[4] != 'K' || a[0] != 'R' {
				return ErrFen
			}
		case 'k':
			if a[60] != 'k' || a[63] != 'r' {
				return ErrFen
			}
		case 'q':
			if a[60] != 'k' || a[56] != 'r' {
				return ErrFen
			}
		default:
			return ErrFen
		}
	}
	return nil
}
