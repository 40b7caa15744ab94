// Package faceid matches a camera snapshot against enrolled student photos
// through an external vision API. Matching is best-effort: any upstream
// failure is reported as "no match" so kiosk check-in can fall back to codes.
package faceid

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/chessclub/core"
)

// Candidate is one enrolled face the snapshot is compared against.
type Candidate struct {
	StudentID string `json:"student_id"`
	Photo     string `json:"photo"` // base64 data URL
}

// Match is a positive identification at or above the confidence floor.
type Match struct {
	StudentID  string  `json:"student_id"`
	Confidence float64 `json:"confidence"`
}

type Service struct {
	conf   *core.Config
	logger core.Logger
	client *http.Client
}

func NewService(conf *core.Config, logger core.Logger) *Service {
	return &Service{
		conf:   conf,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether a vision backend has been configured.
func (s *Service) Enabled() bool { return s.conf.FaceID.BaseURL != "" }

type identifyRequest struct {
	Image      string      `json:"image"`
	Candidates []Candidate `json:"candidates"`
}

type identifyResponse struct {
	StudentID  string  `json:"student_id"`
	Confidence float64 `json:"confidence"`
}

// Identify compares one snapshot against the candidate set. It returns
// (nil, nil) when nobody matches above the confidence floor; upstream
// errors are logged and degrade to the same answer.
func (s *Service) Identify(ctx context.Context, image string, candidates []Candidate) (*Match, error) {
	if !s.Enabled() {
		return nil, errors.New("faceid: no backend configured")
	}
	if image == "" || len(candidates) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(identifyRequest{Image: image, Candidates: candidates})
	if err != nil {
		return nil, errors.Wrap(err, "faceid: encoding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.conf.FaceID.BaseURL+"/v1/identify", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "faceid: building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.conf.FaceID.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("faceid: identify call failed", err)
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("faceid: identify returned " + resp.Status)
		return nil, nil
	}

	var res identifyResponse
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		s.logger.Warn("faceid: decoding response", err)
		return nil, nil
	}
	if res.StudentID == "" || res.Confidence < s.conf.FaceID.MinConfidence {
		return nil, nil
	}
	return &Match{StudentID: res.StudentID, Confidence: res.Confidence}, nil
}
