package source

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tmshv/rfpharvest/config"
	"github.com/tmshv/rfpharvest/internal"
)

type stubAdapter struct {
	res Result
	err error
}

func (s stubAdapter) Info() internal.SourceInfo {
	return internal.SourceInfo{Name: "stub", BaseURL: "https://stub.example.gov"}
}

func (s stubAdapter) Fetch(context.Context) (Result, error) {
	return s.res, s.err
}

func TestRegistryKinds(t *testing.T) {
	got := NewRegistry().Kinds()
	want := []string{config.KindHTML, config.KindJSON, config.KindRSS, config.KindSimulated}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}
}

func TestRegistryBuild(t *testing.T) {
	sources := []config.SourceConfig{
		{Name: "a", Kind: config.KindHTML, URL: "https://a.example.gov/"},
		{Name: "b", Kind: config.KindRSS, URL: "https://b.example.gov/feed"},
		{Name: "c", Kind: config.KindSimulated},
	}
	adapters, err := NewRegistry().Build(sources, Deps{Fetcher: testFetcher()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(adapters) != 3 {
		t.Fatalf("len(adapters) = %d, want 3", len(adapters))
	}
	for i, a := range adapters {
		if a.Info().Name != sources[i].Name {
			t.Errorf("adapters[%d] = %q, want %q", i, a.Info().Name, sources[i].Name)
		}
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	_, err := NewRegistry().Build([]config.SourceConfig{{Name: "x", Kind: "ftp"}}, Deps{})
	if !errors.Is(err, internal.ErrConfig) {
		t.Errorf("Build() error = %v, want ErrConfig", err)
	}
}

func TestFallbackSimulated(t *testing.T) {
	fetchErr := fmt.Errorf("%w: stub: boom", internal.ErrSourceUnavailable)

	tests := []struct {
		name    string
		stub    stubAdapter
		wantErr bool
		wantSim bool
	}{
		{"error", stubAdapter{err: fetchErr}, true, true},
		{"empty", stubAdapter{res: Result{Skipped: 2}}, false, true},
		{"data", stubAdapter{res: Result{Candidates: []internal.Candidate{{Title: "Real Notice Title", Agency: "A"}}}}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Register("stub", func(config.SourceConfig, Deps) (Adapter, error) { return tt.stub, nil })

			adapters, err := r.Build([]config.SourceConfig{{Name: "stub", Kind: "stub", Fallback: config.FallbackSimulated}}, Deps{})
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}

			res, err := adapters[0].Fetch(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Fetch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if res.Simulated != tt.wantSim {
				t.Errorf("Simulated = %v, want %v", res.Simulated, tt.wantSim)
			}
			if tt.wantSim {
				if len(res.Candidates) != 3 {
					t.Errorf("len(Candidates) = %d, want 3", len(res.Candidates))
				}
				for _, c := range res.Candidates {
					if !c.Simulated {
						t.Errorf("candidate %q not flagged simulated", c.Title)
					}
				}
				if res.Skipped != tt.stub.res.Skipped {
					t.Errorf("Skipped = %d, want %d", res.Skipped, tt.stub.res.Skipped)
				}
			}
		})
	}
}

func TestSimulated(t *testing.T) {
	s := NewSimulated(config.SourceConfig{Name: "demo"})

	res, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.Simulated || len(res.Candidates) != 3 {
		t.Fatalf("res = %+v", res)
	}
	if res.Candidates[0].Agency != "Indiana Department of Administration" {
		t.Errorf("Agency = %q", res.Candidates[0].Agency)
	}
	if info := s.Info(); info.ListingURL == "" || info.BaseURL == "" {
		t.Errorf("Info() = %+v, want listing and base URLs", info)
	}
}
