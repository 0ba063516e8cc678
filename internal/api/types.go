package api

import "github.com/samcharles93/steer/internal/job"

// GenerationRequest is the body of POST /v1/generations: one job request
// plus its sampling settings.
type GenerationRequest struct {
	job.Request
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
}

func (r GenerationRequest) sampling() job.Sampling {
	s := job.Sampling{Temperature: r.Temperature, TopP: r.TopP, TopK: r.TopK, Seed: r.Seed}
	if r.MaxTokens > 0 {
		s.MaxTokens = &r.MaxTokens
	}
	return s
}

// Generation is a stored generation result. ID is the generation id; the
// loop's request id is RequestID.
type Generation struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	RequestID string `json:"request_id"`
	job.Outcome
}

type DeleteGenerationResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}
