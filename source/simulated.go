package source

import (
	"context"

	"github.com/tmshv/rfpharvest/config"
	"github.com/tmshv/rfpharvest/internal"
)

const (
	simulatedAgency = "Indiana Department of Administration"
	simulatedURL    = "https://www.in.gov/idoa/procurement/current-business-opportunities/"
)

// Simulated is the explicit simulation mode. Every candidate it returns is
// flagged as placeholder data and the Result is marked Simulated.
type Simulated struct {
	cfg config.SourceConfig
}

func NewSimulated(cfg config.SourceConfig) *Simulated {
	return &Simulated{cfg: cfg}
}

func (s *Simulated) Info() internal.SourceInfo {
	listing := s.cfg.ListingURL()
	if listing == "" {
		listing = simulatedURL
	}
	base := s.cfg.BaseURL
	if base == "" {
		base = listing
	}
	return internal.SourceInfo{Name: s.cfg.Name, BaseURL: base, ListingURL: listing}
}

func (s *Simulated) Fetch(ctx context.Context) (Result, error) {
	agency := s.cfg.Agency
	if agency == "" {
		agency = simulatedAgency
	}
	placeholders := []internal.Candidate{
		{
			Title:       "Technology Services for State Systems",
			PostedDate:  "2024-02-01",
			DueDate:     "2024-03-15",
			Description: "Request for proposals for technology services and systems integration",
		},
		{
			Title:       "Consulting Services for Digital Transformation",
			PostedDate:  "2024-02-05",
			DueDate:     "2024-03-20",
			Description: "State-wide digital transformation consulting and implementation services",
		},
		{
			Title:       "Cloud Migration and Infrastructure Services",
			PostedDate:  "2024-02-10",
			DueDate:     "2024-03-25",
			Description: "Cloud infrastructure services for state agency systems migration",
		},
	}

	res := Result{Simulated: true}
	for _, c := range placeholders {
		c.Agency = agency
		c.Simulated = true
		res.Candidates = append(res.Candidates, c)
	}
	return res, nil
}
