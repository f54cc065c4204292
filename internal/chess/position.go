package chess

import (
	"errors"
	"strings"

	nchess "github.com/notnil/chess"
)

var (
	ErrIllegalMove = errors.New("chess: illegal move")
	ErrIllegalDrop = errors.New("chess: illegal drop")
)

// Position is a variant position: a standard-rules position from the
// move generator plus the variant state it does not model.
type Position struct {
	variant  Variant
	pos      *nchess.Position
	board    boardArray
	pockets  *pockets
	promoted map[int]bool
	checks   *[2]int
}

// StepInfo describes one applied move or drop.
type StepInfo struct {
	Uci   string
	San   string
	Check bool
}

// NewPosition parses a lichess-flavored FEN into a variant position.
// Castling rights that do not match the placement are rejected, except
// for racing kings where they are cleared.
func NewPosition(variant Variant, rawFen string) (*Position, error) {
	parts, err := parseFen(rawFen)
	if err != nil {
		return nil, err
	}

	board, err := parseBoard(parts.board)
	if err != nil {
		return nil, err
	}

	if variant == VariantRacingKings {
		parts.castling = "-"
	} else if err := validateCastling(board, parts.castling); err != nil {
		return nil, err
	}

	p := &Position{
		variant:  variant,
		board:    board,
		promoted: parts.promoted,
	}
	if variant == VariantCrazyhouse {
		p.pockets = parts.pockets
		if p.pockets == nil {
			p.pockets = &pockets{}
		}
	}
	if variant == VariantThreeCheck {
		p.checks = parts.checks
		if p.checks == nil {
			p.checks = &[2]int{3, 3}
		}
	}

	fenOpt, err := nchess.FEN(parts.plain())
	if err != nil {
		return nil, ErrFen
	}
	p.pos = nchess.NewGame(fenOpt).Position()
	return p, nil
}

// legalMoves returns the generator's moves with the variant filter
// applied: racing kings forbids giving check.
func (p *Position) legalMoves() []*nchess.Move {
	moves := p.pos.ValidMoves()
	if p.variant != VariantRacingKings {
		return moves
	}
	out := moves[:0:0]
	for _, m := range moves {
		if !m.HasTag(nchess.Check) {
			out = append(out, m)
		}
	}
	return out
}

// Dests renders the legal-destinations string: space-separated groups,
// each an origin square followed by its destination squares, origins in
// board order, every square in piotr encoding.
func (p *Position) Dests() string {
	byOrigin := make(map[int][]int)
	for _, m := range p.legalMoves() {
		from := int(m.S1())
		byOrigin[from] = append(byOrigin[from], int(m.S2()))
	}

	var b strings.Builder
	b.Grow(80)
	for from := 0; from < 64; from++ {
		tos, ok := byOrigin[from]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(Piotr(from))
		for _, to := range tos {
			b.WriteByte(Piotr(to))
		}
	}
	return b.String()
}

// Fen renders the position back into its lichess-flavored FEN.
func (p *Position) Fen() string {
	return render(p.pos.String(), p.promoted, p.pockets, p.checks)
}

// Ply is 2*(fullmove-1), plus one when black is to move.
func (p *Position) Ply() int {
	fields := strings.Fields(p.pos.String())
	ply := 0
	if len(fields) == 6 {
		full := atoiOr(fields[5], 1)
		if full < 1 {
			full = 1
		}
		ply = 2 * (full - 1)
		if fields[1] == "b" {
			ply++
		}
	}
	return ply
}

// InCheck reports whether the side to move is in check.
func (p *Position) InCheck() bool {
	white := p.pos.Turn() == nchess.White
	king := kingSquare(p.board, white)
	return king >= 0 && attacked(p.board, king, !white)
}

// CrazyData returns the pocket object for crazyhouse nodes, nil for
// other variants.
func (p *Position) CrazyData() *CrazyData {
	if p.variant != VariantCrazyhouse {
		return nil
	}
	return &CrazyData{Pockets: *p.pockets}
}

// CrazyData is the crazyhouse state attached to analysis nodes. Zero
// counts marshal away.
type CrazyData struct {
	Pockets pockets `json:"pockets"`
}

var roleLetters = map[string]byte{
	"pawn": 'p', "knight": 'n', "bishop": 'b', "rook": 'r', "queen": 'q', "king": 'k',
}

var promoTypes = map[byte]nchess.PieceType{
	'q': nchess.Queen, 'r': nchess.Rook, 'b': nchess.Bishop, 'n': nchess.Knight, 'k': nchess.King,
}

// PlayMove applies an orig/dest move (promotion by role name) and
// returns the resulting position. The SAN is computed in the pre-move
// position.
func (p *Position) PlayMove(orig, dest, promotion string) (*Position, StepInfo, error) {
	origSq, err := parseSquare(orig)
	if err != nil {
		return nil, StepInfo{}, ErrIllegalMove
	}
	destSq, err := parseSquare(dest)
	if err != nil {
		return nil, StepInfo{}, ErrIllegalMove
	}

	promoLetter := byte(0)
	promoType := nchess.NoPieceType
	if promotion != "" {
		letter, ok := roleLetters[promotion]
		if !ok || letter == 'p' {
			return nil, StepInfo{}, ErrIllegalMove
		}
		promoLetter = letter
		promoType = promoTypes[letter]
	}

	var move *nchess.Move
	for _, m := range p.legalMoves() {
		if int(m.S1()) == origSq && int(m.S2()) == destSq && m.Promo() == promoType {
			move = m
			break
		}
	}
	if move == nil {
		return nil, StepInfo{}, ErrIllegalMove
	}

	san := nchess.AlgebraicNotation{}.Encode(p.pos, move)
	moverWhite := p.pos.Turn() == nchess.White

	next := &Position{
		variant: p.variant,
		pos:     p.pos.Update(move),
	}

	board, err := parseBoard(strings.Fields(next.pos.String())[0])
	if err != nil {
		return nil, StepInfo{}, ErrFen
	}
	next.board = board

	if p.variant == VariantCrazyhouse {
		next.pockets = p.nextPockets(move, moverWhite, origSq, destSq)
		next.promoted = p.nextPromoted(move, origSq, destSq)
	}
	if p.variant == VariantThreeCheck {
		checks := *p.checks
		if move.HasTag(nchess.Check) {
			idx := 1
			if moverWhite {
				idx = 0
			}
			if checks[idx] > 0 {
				checks[idx]--
			}
		}
		next.checks = &checks
	}

	uci := orig + dest
	if promoLetter != 0 {
		uci += string(promoLetter)
	}

	return next, StepInfo{
		Uci:   uci,
		San:   san,
		Check: move.HasTag(nchess.Check),
	}, nil
}

// nextPockets adds the captured piece, as its unpromoted role, to the
// mover's reserve.
func (p *Position) nextPockets(move *nchess.Move, moverWhite bool, origSq, destSq int) *pockets {
	pk := *p.pockets
	switch {
	case move.HasTag(nchess.EnPassant):
		capturer := &pk.Black
		if moverWhite {
			capturer = &pk.White
		}
		capturer.add('p', 1)
	case move.HasTag(nchess.Capture):
		role := p.board[destSq] | 0x20
		if p.promoted[destSq] {
			role = 'p'
		}
		capturer := &pk.Black
		if moverWhite {
			capturer = &pk.White
		}
		capturer.add(role, 1)
	}
	return &pk
}

// nextPromoted moves the promotion markers along with the pieces.
func (p *Position) nextPromoted(move *nchess.Move, origSq, destSq int) map[int]bool {
	out := make(map[int]bool, len(p.promoted)+1)
	for sq := range p.promoted {
		if sq != origSq && sq != destSq {
			out[sq] = true
		}
	}
	if p.promoted[origSq] || move.Promo() != nchess.NoPieceType {
		out[destSq] = true
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// DropSquares lists, in board order, every square where the side to move
// may drop at least one pocket role. Empty for other variants or an
// empty pocket.
func (p *Position) DropSquares() string {
	if p.variant != VariantCrazyhouse {
		return ""
	}
	white := p.pos.Turn() == nchess.White
	pk := &p.pockets.Black
	if white {
		pk = &p.pockets.White
	}
	if pk.empty() {
		return ""
	}

	var b strings.Builder
	for sq := 0; sq < 64; sq++ {
		for _, role := range []byte{'p', 'n', 'b', 'r', 'q'} {
			if pk.get(role) > 0 && p.dropLegal(role, sq, white) {
				b.WriteString(squareName(sq))
				break
			}
		}
	}
	return b.String()
}

func (p *Position) dropLegal(role byte, sq int, white bool) bool {
	if p.board[sq] != 0 {
		return false
	}
	rank := sq / 8
	if role == 'p' && (rank == 0 || rank == 7) {
		return false
	}

	after := p.board
	letter := role
	if white {
		letter = role - 'a' + 'A'
	}
	after[sq] = letter

	king := kingSquare(after, white)
	return king < 0 || !attacked(after, king, !white)
}

// PlayDrop applies a crazyhouse drop and returns the resulting position.
func (p *Position) PlayDrop(roleName, sqName string) (*Position, StepInfo, error) {
	if p.variant != VariantCrazyhouse {
		return nil, StepInfo{}, ErrIllegalDrop
	}
	role, ok := roleLetters[roleName]
	if !ok || role == 'k' {
		return nil, StepInfo{}, ErrIllegalDrop
	}
	sq, err := parseSquare(sqName)
	if err != nil {
		return nil, StepInfo{}, ErrIllegalDrop
	}

	white := p.pos.Turn() == nchess.White
	pk := *p.pockets
	mine := &pk.Black
	if white {
		mine = &pk.White
	}
	if mine.get(role) < 1 || !p.dropLegal(role, sq, white) {
		return nil, StepInfo{}, ErrIllegalDrop
	}
	mine.add(role, -1)

	board := p.board
	letter := role
	if white {
		letter = role - 'a' + 'A'
	}
	board[sq] = letter

	fields := strings.Fields(p.pos.String())
	turn := "w"
	if white {
		turn = "b"
	}
	halfmove := atoiOr(fields[4], 0) + 1
	if role == 'p' {
		halfmove = 0
	}
	fullmove := atoiOr(fields[5], 1)
	if !white {
		fullmove++
	}
	plain := renderBoard(board) + " " + turn + " " + fields[2] + " - " +
		itoa(halfmove) + " " + itoa(fullmove)

	fenOpt, err := nchess.FEN(plain)
	if err != nil {
		return nil, StepInfo{}, ErrFen
	}

	next := &Position{
		variant:  p.variant,
		pos:      nchess.NewGame(fenOpt).Position(),
		board:    board,
		pockets:  &pk,
		promoted: p.promoted,
	}

	upper := role - 'a' + 'A'
	check := false
	if king := kingSquare(board, !white); king >= 0 {
		check = attacked(board, king, white)
	}
	san := string(upper) + "@" + sqName
	if check {
		san += "+"
	}

	return next, StepInfo{
		Uci:   string(upper) + "@" + sqName,
		San:   san,
		Check: check,
	}, nil
}

func renderBoard(a boardArray) string {
	var b strings.Builder
	for rank := 7; rank >= 0; rank-- {
		empty := 0
		for file := 0; file < 8; file++ {
			c := a[rank*8+file]
			if c == 0 {
				empty++
				continue
			}
			if empty > 0 {
				b.WriteByte('0' + byte(empty))
				empty = 0
			}
			b.WriteByte(c)
		}
		if empty > 0 {
			b.WriteByte('0' + byte(empty))
		}
		if rank > 0 {
			b.WriteByte('/')
		}
	}
	return b.String()
}

func atoiOr(s string, def int) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return def
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 && i > 0 {
		i--
		buf[i] = '0' + byte(n%10)
		n /= 10
	}
	return string(buf[i:])
}
