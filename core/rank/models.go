package rank

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/seido/portal/core"
)

// Belt colors
const (
	BeltWhite  = "White"
	BeltOrange = "Orange"
	BeltBrown  = "Brown"
	BeltBlack  = "Black"
)

// BeltColorForKyu returns the belt color worn at the given kyu: 10-9 White, 8-5 Orange, 4-1 Brown, 0 Black (Shodan).
func BeltColorForKyu(kyu int) string {
	switch {
	case kyu >= 9:
		return BeltWhite
	case kyu >= 5:
		return BeltOrange
	case kyu >= 1:
		return BeltBrown
	default:
		return BeltBlack
	}
}

// Rank is a belt rank. A higher RankOrder is a higher rank: kyu ranks count down towards black belt,
// then dan ranks count up.
type Rank struct {
	ID          string    `json:"id"`
	RankOrder   int       `json:"rank_order"`
	Kyu         *int      `json:"kyu"`
	Dan         *int      `json:"dan"`
	BeltColor   string    `json:"belt_color"`
	Stripes     int       `json:"stripes"`
	DisplayName string    `json:"display_name"`
	IsDefault   bool      `json:"is_default_rank"`
	CreatedAt   time.Time `json:"created_at"`
}

// Label is the human readable name of the rank.
func (r Rank) Label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	switch {
	case r.Kyu != nil:
		return fmt.Sprintf("%d Kyu", *r.Kyu)
	case r.Dan != nil:
		return fmt.Sprintf("%d Dan", *r.Dan)
	}
	return ""
}

// Grade is a snapshot of a rank, as captured on gradings and in the grading history.
type Grade struct {
	Kyu       *int   `json:"kyu"`
	Dan       *int   `json:"dan"`
	BeltColor string `json:"belt_color"`
	Label     string `json:"label"`
}

func (r Rank) Grade() Grade {
	return Grade{Kyu: r.Kyu, Dan: r.Dan, BeltColor: r.BeltColor, Label: r.Label()}
}

// Higher reports whether r is a higher rank than other.
func (r Rank) Higher(other Rank) bool {
	return r.RankOrder > other.RankOrder
}

// Configuration makes a rank available (or not) for grading applications.
type Configuration struct {
	ID           string    `json:"id"`
	RankID       string    `json:"rank_id"`
	IsAvailable  bool      `json:"is_available"`
	DisplayOrder int       `json:"display_order"`
	UpdatedAt    time.Time `json:"updated_at"`
	Rank         *Rank     `json:"rank,omitempty"`
}

// NewRank contains information needed to create a new Rank.
type NewRank struct {
	RankOrder   int    `json:"rank_order" yaml:"rank_order" validate:"min=1"`
	Kyu         *int   `json:"kyu" yaml:"kyu" validate:"omitempty,min=0,max=10"`
	Dan         *int   `json:"dan" yaml:"dan" validate:"omitempty,min=1,max=10"`
	BeltColor   string `json:"belt_color" yaml:"belt_color"`
	Stripes     int    `json:"stripes" yaml:"stripes" validate:"min=0"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	IsDefault   bool   `json:"is_default_rank" yaml:"is_default_rank"`
}

func (nr *NewRank) Validate(validate *validator.Validate) error {
	nr.BeltColor = core.CleanString(nr.BeltColor)
	nr.DisplayName = core.CleanString(nr.DisplayName)

	if err := validate.Struct(nr); err != nil {
		return err
	}
	if (nr.Kyu == nil) == (nr.Dan == nil) {
		return core.NewValidationError(errKyuXorDan,
			core.FieldError{Field: "kyu", Error: errKyuXorDan.Error()},
			core.FieldError{Field: "dan", Error: errKyuXorDan.Error()},
		)
	}
	if nr.BeltColor == "" {
		if nr.Kyu != nil {
			nr.BeltColor = BeltColorForKyu(*nr.Kyu)
		} else {
			nr.BeltColor = BeltBlack
		}
	}
	return nil
}

// UpdateConfiguration defines what may be changed on a grading Configuration.
type UpdateConfiguration struct {
	IsAvailable  *bool `json:"is_available"`
	DisplayOrder *int  `json:"display_order" validate:"omitempty,min=0"`
}

func (uc *UpdateConfiguration) Validate(validate *validator.Validate) error { return validate.Struct(uc) }

type GetFilter struct {
	ID        string
	RankOrder int
	Default   bool
}
