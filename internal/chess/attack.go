package chess

// Small attack calculator over the mailbox board. The move generator
// covers ordinary legality; this exists for what it cannot answer:
// whether a crazyhouse drop leaves or gives check.

var knightJumps = [8][2]int{
	{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2},
}

var kingSteps = [8][2]int{
	{0, 1}, {1, 1}, {1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1},
}

var bishopRays = [4][2]int{{1, 1}, {1, -1}, {-1, -1}, {-1, 1}}
var rookRays = [4][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}}

// attacked reports whether the square is attacked by any piece of the
// given color (white when byWhite).
func attacked(a boardArray, sq int, byWhite bool) bool {
	file, rank := sq%8, sq/8

	at := func(f, r int) byte {
		if f < 0 || f > 7 || r < 0 || r > 7 {
			return 0
		}
		return a[r*8+f]
	}
	owned := func(c byte, role byte) bool {
		return c != 0 && isWhitePiece(c) == byWhite && c|0x20 == role
	}

	for _, j := range knightJumps {
		if owned(at(file+j[0], rank+j[1]), 'n') {
			return true
		}
	}
	for _, s := range kingSteps {
		if owned(at(file+s[0], rank+s[1]), 'k') {
			return true
		}
	}

	// pawns capture toward the enemy: a white pawn on rank-1 attacks sq
	pawnRank := rank - 1
	if !byWhite {
		pawnRank = rank + 1
	}
	if owned(at(file-1, pawnRank), 'p') || owned(at(file+1, pawnRank), 'p') {
		return true
	}

	slide := func(rays [4][2]int, role byte) bool {
		for _, d := range rays {
			f, r := file+d[0], rank+d[1]
			for f >= 0 && f <= 7 && r >= 0 && r <= 7 {
				c := a[r*8+f]
				if c != 0 {
					if isWhitePiece(c) == byWhite && (c|0x20 == role || c|0x20 == 'q') {
						return true
					}
					break
				}
				f += d[0]
				r += d[1]
			}
		}
		return false
	}

	return slide(bishopRays, 'b') || slide(rookRays, 'r')
}

// kingSquare finds the king of the given color, -1 if absent.
func kingSquare(a boardArray, white bool) int {
	target := byte('k')
	if white {
		target = 'K'
	}
	for sq := 0; sq < 64; sq++ {
		if a[sq] == target {
			return sq
		}
	}
	return -1
}
