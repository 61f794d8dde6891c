package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/tmshv/rfpharvest/config"
	"github.com/tmshv/rfpharvest/internal"
)

// Candidate field keys accepted in a json source "fields" mapping.
const (
	FieldTitle       = "title"
	FieldAgency      = "agency"
	FieldURL         = "url"
	FieldPostedDate  = "posted_date"
	FieldDueDate     = "due_date"
	FieldNoticeID    = "notice_id"
	FieldDescription = "description"
)

// DefaultJSONFields maps candidate fields to SAM.gov opportunity keys.
var DefaultJSONFields = map[string]string{
	FieldTitle:       "title",
	FieldAgency:      "fullParentPathName",
	FieldURL:         "uiLink",
	FieldPostedDate:  "postedDate",
	FieldDueDate:     "responseDeadLine",
	FieldNoticeID:    "noticeId",
	FieldDescription: "description",
}

var errItemsPath = errors.New("items_path does not select an array")

// JSONAdapter reads a JSON API response. Items are selected with the
// gjson path in items_path and fields are read with per-field gjson paths.
type JSONAdapter struct {
	cfg    config.SourceConfig
	fields map[string]string
	fetch  *Fetcher
	log    *zap.Logger
}

func NewJSONAdapter(cfg config.SourceConfig, deps Deps) (Adapter, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("json adapter needs a fetcher")
	}
	fields := make(map[string]string, len(DefaultJSONFields))
	for k, v := range DefaultJSONFields {
		fields[k] = v
	}
	for k, v := range cfg.Fields {
		key := strings.ToLower(strings.TrimSpace(k))
		if _, ok := DefaultJSONFields[key]; !ok {
			return nil, fmt.Errorf("unknown field %q", k)
		}
		fields[key] = v
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &JSONAdapter{cfg: cfg, fields: fields, fetch: deps.Fetcher, log: log}, nil
}

func (a *JSONAdapter) Info() internal.SourceInfo {
	return internal.SourceInfo{Name: a.cfg.Name, BaseURL: a.cfg.BaseURL, ListingURL: a.cfg.ListingURL()}
}

func (a *JSONAdapter) Fetch(ctx context.Context) (Result, error) {
	body, err := a.fetch.Get(ctx, a.cfg.ListingURL(), a.cfg.Headers)
	if err != nil {
		return Result{}, fetchFailed(a.cfg.Name, err)
	}
	return a.Parse(body)
}

func (a *JSONAdapter) Parse(body []byte) (Result, error) {
	if !gjson.ValidBytes(body) {
		return Result{}, malformed(a.cfg.Name, errors.New("invalid JSON"))
	}

	items := gjson.GetBytes(body, a.cfg.ItemsPath)
	if !items.Exists() {
		return Result{}, malformed(a.cfg.Name, fmt.Errorf("%w: %q not found", errItemsPath, a.cfg.ItemsPath))
	}
	if !items.IsArray() {
		return Result{}, malformed(a.cfg.Name, fmt.Errorf("%w: %q is %s", errItemsPath, a.cfg.ItemsPath, items.Type))
	}

	var res Result
	items.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			res.Skipped++
			return true
		}
		c := internal.Candidate{
			Title:       a.get(item, FieldTitle),
			Agency:      a.get(item, FieldAgency),
			URL:         a.get(item, FieldURL),
			PostedDate:  a.get(item, FieldPostedDate),
			DueDate:     a.get(item, FieldDueDate),
			NoticeID:    a.get(item, FieldNoticeID),
			Description: a.get(item, FieldDescription),
		}
		if c.Agency == "" {
			c.Agency = a.cfg.Agency
		}
		res.Candidates = append(res.Candidates, c)
		return true
	})

	a.log.Debug("Parsed JSON response",
		zap.String("source", a.cfg.Name),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (a *JSONAdapter) get(item gjson.Result, field string) string {
	path := a.fields[field]
	if path == "" {
		return ""
	}
	return strings.TrimSpace(item.Get(path).String())
}
