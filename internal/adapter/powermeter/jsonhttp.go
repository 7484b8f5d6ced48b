package powermeter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/berfenger/b2500meter/internal/config"
	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/berfenger/b2500meter/internal/util"
)

const DEFAULT_HTTP_TIMEOUT = 10 * time.Second

// JSONHTTPSource polls a JSON endpoint and extracts one value per path.
type JSONHTTPSource struct {
	name   string
	cfg    config.JSONHTTPConfig
	client *http.Client
}

func NewJSONHTTPSource(name string, cfg config.JSONHTTPConfig) *JSONHTTPSource {
	timeout := time.Duration(cfg.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = DEFAULT_HTTP_TIMEOUT
	}
	return &JSONHTTPSource{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *JSONHTTPSource) Fetch(ctx context.Context) (domain.Reading, error) {
	data, err := s.get(ctx)
	if err != nil {
		return nil, domain.NewSourceError(s.name, err)
	}
	reading := make(domain.Reading, 0, len(s.cfg.JSONPaths))
	for _, path := range s.cfg.JSONPaths {
		v, err := util.ExtractFloat(data, path)
		if err != nil {
			return nil, domain.NewSourceError(s.name, err)
		}
		reading = append(reading, v)
	}
	return reading, nil
}

func (s *JSONHTTPSource) get(ctx context.Context) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	if s.cfg.Username != "" || s.cfg.Password != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *JSONHTTPSource) WaitForMessage(_ context.Context, _ time.Duration) error {
	return nil
}
