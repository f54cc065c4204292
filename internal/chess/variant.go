package chess

import "errors"

// ErrVariant marks a variant the analysis responder cannot service.
var ErrVariant = errors.New("chess: unsupported variant")

// Variant is the browser-facing variant key. Standard, fromPosition and
// chess960 all resolve to standard rules.
type Variant int

const (
	VariantStandard Variant = iota
	VariantKingOfTheHill
	VariantThreeCheck
	VariantRacingKings
	VariantCrazyhouse
)

// ParseVariant resolves a variant key, defaulting the empty string to
// standard. Keys whose move generation rules the responder does not carry
// (antichess, atomic, horde) are recognized but rejected, which surfaces
// to the browser as the domain failure marker.
func ParseVariant(key string) (Variant, error) {
	switch key {
	case "", "standard", "fromPosition", "chess960":
		return VariantStandard, nil
	case "kingOfTheHill":
		return VariantKingOfTheHill, nil
	case "threeCheck":
		return VariantThreeCheck, nil
	case "racingKings":
		return VariantRacingKings, nil
	case "crazyhouse":
		return VariantCrazyhouse, nil
	case "antichess", "atomic", "horde":
		return VariantStandard, ErrVariant
	}
	return VariantStandard, ErrVariant
}

// OpeningSensible reports whether opening lookup makes sense for the
// variant: the book covers openings reachable under standard piece
// movement from the standard start position.
func (v Variant) OpeningSensible() bool {
	switch v {
	case VariantStandard, VariantCrazyhouse, VariantThreeCheck, VariantKingOfTheHill:
		return true
	}
	return false
}

func (v Variant) String() string {
	switch v {
	case VariantKingOfTheHill:
		return "kingOfTheHill"
	case VariantThreeCheck:
		return "threeCheck"
	case VariantRacingKings:
		return "racingKings"
	case VariantCrazyhouse:
		return "crazyhouse"
	}
	return "standard"
}
