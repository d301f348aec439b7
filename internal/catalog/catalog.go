// Package catalog loads the spot catalog from its JSON file.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/playperu/stamprally/internal/quiz"
	"github.com/playperu/stamprally/internal/stamprally"
)

var ErrInvalid = errors.New("invalid catalog")

type spotDoc struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Lat     float64       `json:"lat"`
	Lng     float64       `json:"lng"`
	RadiusM float64       `json:"radius_m"`
	Themes  []string      `json:"themes"`
	Long    string        `json:"long"`
	Caution string        `json:"caution"`
	Quiz    []questionDoc `json:"quiz"`
}

type questionDoc struct {
	Q       string   `json:"q"`
	Choices []string `json:"choices"`
	Ans     int      `json:"ans"`
	Exp     string   `json:"exp"`
}

// Catalog is the immutable, ordered set of spots.
type Catalog struct {
	spots []stamprally.Spot
	byID  map[string]int
}

func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*Catalog, error) {
	var docs []spotDoc
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	spots := make([]stamprally.Spot, 0, len(docs))
	for _, d := range docs {
		spot := stamprally.Spot{
			ID:           d.ID,
			Name:         d.Name,
			Lat:          d.Lat,
			Lng:          d.Lng,
			RadiusMeters: d.RadiusM,
			Themes:       d.Themes,
			Description:  d.Long,
			Caution:      d.Caution,
		}
		for _, q := range d.Quiz {
			spot.Quiz = append(spot.Quiz, stamprally.Question{
				Prompt:       q.Q,
				Choices:      q.Choices,
				CorrectIndex: q.Ans,
				Explanation:  q.Exp,
			})
		}
		spots = append(spots, spot)
	}
	return New(spots)
}

// New validates spots and builds a catalog from them.
func New(spots []stamprally.Spot) (*Catalog, error) {
	c := &Catalog{
		spots: spots,
		byID:  make(map[string]int, len(spots)),
	}
	for i, s := range spots {
		if err := validate(s); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate spot id %q", ErrInvalid, s.ID)
		}
		c.byID[s.ID] = i
	}
	return c, nil
}

func validate(s stamprally.Spot) error {
	if s.ID == "" {
		return fmt.Errorf("%w: spot without id", ErrInvalid)
	}
	if !(s.RadiusMeters > 0) {
		return fmt.Errorf("%w: spot %q: radius must be positive", ErrInvalid, s.ID)
	}
	if s.Lat < -90 || s.Lat > 90 || s.Lng < -180 || s.Lng > 180 {
		return fmt.Errorf("%w: spot %q: coordinates out of range", ErrInvalid, s.ID)
	}
	if len(s.Quiz) != quiz.QuestionsPerRun {
		return fmt.Errorf("%w: spot %q: quiz needs %d questions, has %d",
			ErrInvalid, s.ID, quiz.QuestionsPerRun, len(s.Quiz))
	}
	for i, q := range s.Quiz {
		if len(q.Choices) < 2 {
			return fmt.Errorf("%w: spot %q question %d: needs at least 2 choices", ErrInvalid, s.ID, i+1)
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Choices) {
			return fmt.Errorf("%w: spot %q question %d: answer index %d out of range",
				ErrInvalid, s.ID, i+1, q.CorrectIndex)
		}
	}
	return nil
}

// Spots returns copies of the spots in catalog order. Callers may modify
// them freely.
func (c *Catalog) Spots() []stamprally.Spot {
	out := make([]stamprally.Spot, len(c.spots))
	for i, s := range c.spots {
		out[i] = clone(s)
	}
	return out
}

func (c *Catalog) Spot(id string) (stamprally.Spot, error) {
	i, ok := c.byID[id]
	if !ok {
		return stamprally.Spot{}, stamprally.ErrSpotNotFound
	}
	return clone(c.spots[i]), nil
}

func (c *Catalog) Len() int { return len(c.spots) }

func clone(s stamprally.Spot) stamprally.Spot {
	s.Themes = slices.Clone(s.Themes)
	s.Quiz = slices.Clone(s.Quiz)
	for i := range s.Quiz {
		s.Quiz[i].Choices = slices.Clone(s.Quiz[i].Choices)
	}
	return s
}
