package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tmshv/rfpharvest/internal"
	"github.com/tmshv/rfpharvest/metrics"
	"github.com/tmshv/rfpharvest/store"
)

type listResponse struct {
	RunID string            `json:"run_id"`
	Total int               `json:"total"`
	Data  []internal.Record `json:"data"`
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	b := internal.NewBatch("run-1", time.Date(2024, 2, 20, 12, 0, 0, 0, time.UTC))
	b.Source("Indiana IDOA").Accepted = 2
	b.Source("SAM.gov").SetError(errors.New("source unavailable"))
	b.Append(internal.Record{
		Title: "Technology Services for State Systems", Agency: "Indiana Department of Administration",
		PostedDate: "2024-02-01", NoticeID: "IN-1", Source: "Indiana IDOA", URL: "https://www.in.gov/idoa/opp/1",
		Description: "systems integration",
	})
	b.Append(internal.Record{
		Title: "Cloud Migration and Infrastructure Services", Agency: "Indiana Office of Technology",
		PostedDate: "2024-02-10", NoticeID: "IN-2", Source: "Indiana IDOA", URL: "https://www.in.gov/idoa/opp/2",
	})

	path := filepath.Join(t.TempDir(), "rfp_data.json")
	if err := (store.JSONSink{Path: path}).Save(context.Background(), b); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return path
}

func get(t *testing.T, s *Server, target string) (int, []byte) {
	t.Helper()
	resp, err := s.Router().Test(httptest.NewRequest(http.MethodGet, target, nil))
	if err != nil {
		t.Fatalf("GET %s error = %v", target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, body
}

func TestListRFPs(t *testing.T) {
	s := &Server{ArtifactPath: writeArtifact(t)}

	tests := []struct {
		target string
		want   []string
	}{
		{"/rfps", []string{"IN-1", "IN-2"}},
		{"/rfps?agency=office+of+technology", []string{"IN-2"}},
		{"/rfps?q=integration", []string{"IN-1"}},
		{"/rfps?source=SAM.gov", nil},
		{"/rfps?limit=1&page=2", []string{"IN-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			code, body := get(t, s, tt.target)
			if code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", code, body)
			}
			var resp listResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			var ids []string
			for _, r := range resp.Data {
				ids = append(ids, r.NoticeID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
			if resp.RunID != "run-1" {
				t.Errorf("run_id = %q", resp.RunID)
			}
		})
	}
}

func TestListRFPsWithoutArtifact(t *testing.T) {
	s := &Server{ArtifactPath: filepath.Join(t.TempDir(), "missing.json")}

	code, body := get(t, s, "/rfps")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503: %s", code, body)
	}
	if !strings.Contains(string(body), "no harvest") {
		t.Errorf("body = %s", body)
	}
}

func TestListSources(t *testing.T) {
	code, body := get(t, &Server{ArtifactPath: writeArtifact(t)}, "/sources")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var resp struct {
		Sources map[string]internal.SourceReport `json:"sources"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Sources["Indiana IDOA"].Accepted != 2 || resp.Sources["SAM.gov"].Error == nil {
		t.Errorf("sources = %+v", resp.Sources)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	m := metrics.NewHarvest()
	m.ObserveRun(time.Unix(1700000000, 0), 2)
	s := &Server{ArtifactPath: "unused.json", Metrics: m}

	if code, _ := get(t, s, "/healthz"); code != http.StatusOK {
		t.Errorf("/healthz status = %d", code)
	}
	code, body := get(t, s, "/metrics")
	if code != http.StatusOK || !strings.Contains(string(body), "rfpharvest_last_run_records 2") {
		t.Errorf("/metrics status = %d body = %s", code, body)
	}
}

type fakeArchive struct {
	records []internal.Record
}

func (f fakeArchive) GetRecords(_ context.Context, source string) ([]internal.Record, error) {
	var out []internal.Record
	for _, r := range f.records {
		if source == "" || r.Source == source {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeArchive) GetBatches(context.Context) ([]store.BatchInfo, error) {
	return []store.BatchInfo{{RunID: "run-1", TotalRFPs: len(f.records)}}, nil
}

func TestArchive(t *testing.T) {
	if code, _ := get(t, &Server{}, "/archive/rfps"); code != http.StatusNotFound {
		t.Errorf("status without archive = %d, want 404", code)
	}

	s := &Server{Archive: fakeArchive{records: []internal.Record{
		{NoticeID: "IN-1", Source: "Indiana IDOA"},
		{NoticeID: "SAM-1", Source: "SAM.gov"},
	}}}
	code, body := get(t, s, "/archive/rfps?source=SAM.gov")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.Data[0].NoticeID != "SAM-1" {
		t.Errorf("archive = %+v", resp)
	}

	if code, body := get(t, s, "/archive/batches"); code != http.StatusOK || !strings.Contains(string(body), `"run_id":"run-1"`) {
		t.Errorf("batches status = %d body = %s", code, body)
	}
}
