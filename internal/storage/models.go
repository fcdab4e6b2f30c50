package storage

// Variant is the star type of a run.
type Variant int16

const (
	VariantStandard Variant = 0
	VariantDouble   Variant = 1
)

func (v Variant) String() string {
	if v == VariantDouble {
		return "DRS"
	}
	return "RS"
}

// Player - a participant and their running balance
type Player struct {
	ID     int64
	Points float64
}

// Run - one logged RS run
type Run struct {
	ID          int
	Level       int
	Variant     Variant
	TotalPoints int
}

// Standing is one leaderboard row: a player's balance and how many runs he took part in.
type Standing struct {
	PlayerID int64
	Points   float64
	RunCount int
}
