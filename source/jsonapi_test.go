package source

import (
	"errors"
	"testing"

	"github.com/tmshv/rfpharvest/config"
	"github.com/tmshv/rfpharvest/internal"
)

const opportunities = `{
  "totalRecords": 3,
  "opportunitiesData": [
    {
      "noticeId": "abc123",
      "title": "Enterprise Data Platform Modernization",
      "fullParentPathName": "GENERAL SERVICES ADMINISTRATION",
      "postedDate": "2024-02-12",
      "responseDeadLine": "2024-03-30T17:00:00-05:00",
      "uiLink": "https://sam.gov/opp/abc123/view",
      "description": "https://api.sam.gov/prod/opportunities/v1/noticedesc?noticeid=abc123"
    },
    {
      "noticeId": "def456",
      "title": "Network Security Assessment Services",
      "postedDate": "2024-02-14"
    },
    "not an object"
  ]
}`

func newTestJSONAdapter(t *testing.T, cfg config.SourceConfig) *JSONAdapter {
	t.Helper()
	a, err := NewJSONAdapter(cfg, Deps{Fetcher: testFetcher()})
	if err != nil {
		t.Fatalf("NewJSONAdapter() error = %v", err)
	}
	return a.(*JSONAdapter)
}

func TestJSONAdapterParse(t *testing.T) {
	a := newTestJSONAdapter(t, config.SourceConfig{
		Name:      "SAM.gov",
		ItemsPath: "opportunitiesData",
		Agency:    "Federal",
	})

	res, err := a.Parse([]byte(opportunities))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("len(Candidates) = %d, want 2", len(res.Candidates))
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}

	first := res.Candidates[0]
	want := struct{ title, agency, due, id, url string }{
		"Enterprise Data Platform Modernization",
		"GENERAL SERVICES ADMINISTRATION",
		"2024-03-30T17:00:00-05:00",
		"abc123",
		"https://sam.gov/opp/abc123/view",
	}
	if first.Title != want.title || first.Agency != want.agency || first.DueDate != want.due ||
		first.NoticeID != want.id || first.URL != want.url {
		t.Errorf("first = %+v", first)
	}

	if res.Candidates[1].Agency != "Federal" {
		t.Errorf("Agency = %q, want configured fallback", res.Candidates[1].Agency)
	}
}

func TestJSONAdapterFieldOverrides(t *testing.T) {
	a := newTestJSONAdapter(t, config.SourceConfig{
		Name:      "custom",
		ItemsPath: "data.items",
		Fields:    map[string]string{"title": "name", "notice_id": "meta.ref"},
	})

	res, err := a.Parse([]byte(`{"data":{"items":[{"name":"Fleet Vehicle Maintenance Contract","meta":{"ref":"FV-9"}}]}}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("len(Candidates) = %d, want 1", len(res.Candidates))
	}
	if c := res.Candidates[0]; c.Title != "Fleet Vehicle Maintenance Contract" || c.NoticeID != "FV-9" {
		t.Errorf("candidate = %+v", c)
	}
}

func TestJSONAdapterUnknownField(t *testing.T) {
	_, err := NewJSONAdapter(config.SourceConfig{Name: "x", ItemsPath: "a", Fields: map[string]string{"budget": "amount"}}, Deps{Fetcher: testFetcher()})
	if err == nil {
		t.Fatal("NewJSONAdapter() error = nil, want unknown field error")
	}
}

func TestJSONAdapterMalformed(t *testing.T) {
	a := newTestJSONAdapter(t, config.SourceConfig{Name: "SAM.gov", ItemsPath: "opportunitiesData"})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"opportunitiesData": [`},
		{"missing path", `{"other": []}`},
		{"not an array", `{"opportunitiesData": {"title": "x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Parse([]byte(tt.body))
			if !errors.Is(err, internal.ErrSourceMalformed) {
				t.Errorf("Parse() error = %v, want ErrSourceMalformed", err)
			}
		})
	}
}
