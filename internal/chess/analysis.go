package chess

import (
	"strings"

	"github.com/chesshub/gateway/internal/opening"
)

// OpeningRequest asks for the book entry of a position.
type OpeningRequest struct {
	Variant string `json:"variant,omitempty"`
	Path    string `json:"path"`
	Fen     string `json:"fen"`
}

// OpeningResponse names the book entry, echoing the tree path.
type OpeningResponse struct {
	Path    string           `json:"path"`
	Opening *opening.Opening `json:"opening"`
}

// DestsRequest asks for the legal destinations of a position.
type DestsRequest struct {
	Variant string `json:"variant,omitempty"`
	Fen     string `json:"fen"`
	Path    string `json:"path"`
	Ch      string `json:"ch,omitempty"`
}

// DestsResponse carries the piotr-encoded destination groups.
type DestsResponse struct {
	Path    string           `json:"path"`
	Dests   string           `json:"dests"`
	Opening *opening.Opening `json:"opening,omitempty"`
	Ch      string           `json:"ch,omitempty"`
}

// StepRequest applies a move (orig/dest, optional promotion) or a drop
// (role/pos) to a position.
type StepRequest struct {
	Variant   string `json:"variant,omitempty"`
	Fen       string `json:"fen"`
	Path      string `json:"path"`
	Ch        string `json:"ch,omitempty"`
	Orig      string `json:"orig,omitempty"`
	Dest      string `json:"dest,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Role      string `json:"role,omitempty"`
	Pos       string `json:"pos,omitempty"`
}

// Node describes the position reached by a step.
type Node struct {
	Node Branch `json:"node"`
	Path string `json:"path"`
	Ch   string `json:"ch,omitempty"`
}

// Branch is the analysis-tree node payload. Id is the two-character
// uci_char_pair encoding of the step.
type Branch struct {
	Id        string           `json:"id"`
	Uci       string           `json:"uci"`
	San       string           `json:"san"`
	Children  []struct{}       `json:"children"`
	Ply       int              `json:"ply"`
	Fen       string           `json:"fen"`
	Check     bool             `json:"check,omitempty"`
	Dests     string           `json:"dests"`
	Drops     *string          `json:"drops,omitempty"`
	Opening   *opening.Opening `json:"opening,omitempty"`
	CrazyData *CrazyData       `json:"crazyData,omitempty"`
}

// GetOpening resolves the book entry for a position. A nil return means
// no reply is sent: unknown position, insensible variant, bad input.
func GetOpening(req OpeningRequest) *OpeningResponse {
	variant, err := ParseVariant(req.Variant)
	if err != nil || !variant.OpeningSensible() {
		return nil
	}
	op := lookupOpening(req.Fen)
	if op == nil {
		return nil
	}
	return &OpeningResponse{Path: req.Path, Opening: op}
}

// GetDests computes the legal-destinations string for a position.
func GetDests(req DestsRequest) (*DestsResponse, error) {
	variant, err := ParseVariant(req.Variant)
	if err != nil {
		return nil, err
	}
	pos, err := NewPosition(variant, req.Fen)
	if err != nil {
		return nil, err
	}

	resp := &DestsResponse{
		Path:  req.Path,
		Dests: pos.Dests(),
		Ch:    req.Ch,
	}
	if variant.OpeningSensible() {
		resp.Opening = lookupOpening(req.Fen)
	}
	return resp, nil
}

// PlayStep applies a move or drop and describes the resulting position.
// Requests carrying a role/pos pair are drops; orig/dest pairs are moves.
func PlayStep(req StepRequest) (*Node, error) {
	variant, err := ParseVariant(req.Variant)
	if err != nil {
		return nil, err
	}
	pos, err := NewPosition(variant, req.Fen)
	if err != nil {
		return nil, err
	}

	var (
		next *Position
		info StepInfo
	)
	if req.Role != "" {
		next, info, err = pos.PlayDrop(req.Role, req.Pos)
	} else {
		next, info, err = pos.PlayMove(req.Orig, req.Dest, req.Promotion)
	}
	if err != nil {
		return nil, err
	}

	id, err := UciCharPair(info.Uci)
	if err != nil {
		return nil, err
	}

	branch := Branch{
		Id:       id,
		Uci:      info.Uci,
		San:      info.San,
		Children: []struct{}{},
		Ply:      next.Ply(),
		Fen:      next.Fen(),
		Check:    info.Check,
		Dests:    next.Dests(),
	}
	if variant == VariantCrazyhouse {
		drops := next.DropSquares()
		branch.Drops = &drops
		branch.CrazyData = next.CrazyData()
	}
	if variant.OpeningSensible() {
		branch.Opening = lookupOpening(branch.Fen)
	}

	return &Node{Node: branch, Path: req.Path, Ch: req.Ch}, nil
}

// lookupOpening strips the variant decorations (pockets, promotion
// markers, remaining checks) before consulting the book. A position with
// an en-passant square that has no book entry of its own is retried with
// "-" there, since the move generator records the square after every
// double pawn push while book keys carry "-".
func lookupOpening(fen string) *opening.Opening {
	parts, err := parseFen(fen)
	if err != nil {
		return nil
	}
	op := opening.Lookup(strings.Join([]string{parts.board, parts.turn, parts.castling, parts.ep}, " "))
	if op != nil || parts.ep == "-" {
		return op
	}
	return opening.Lookup(strings.Join([]string{parts.board, parts.turn, parts.castling, "-"}, " "))
}
