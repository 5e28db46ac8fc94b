// Package webhook implements the Webhook Dispatcher (SPEC_FULL.md §4.3): it
// delivers one burst of challenges to one agent webhook concurrently under a
// shared deadline and classifies each response into a typed Outcome,
// replacing exceptions-as-control-flow with an explicit sum type (§9 Design
// Notes). Structured concurrency per burst: one scope, bounded fan-out,
// join-all, cancel-on-exit — directly modeled on the reference scheduler's
// dispatch/await/finish pipeline, narrowed to a single burst's lifetime.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/agentverify/internal/challenge"
	"github.com/marcus-qen/agentverify/internal/scoring"
)

// Status is the typed classification of one challenge delivery (§4.3's
// outcome table), replacing boolean success/failure plus ad hoc error
// strings with an explicit three-way sum type.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Failure/skip reasons named in the §4.3 outcome table.
const (
	ReasonSlow         = "slow"
	ReasonHTTPClass    = "http_class"
	ReasonOffline      = "offline"
	ReasonBurstTimeout = "burst_timeout"
)

// Request describes one challenge to deliver within a burst.
type Request struct {
	ChallengeID          string
	TemplateID           string
	Prompt               string
	Category             challenge.Category
	Subcategory          string
	ExpectedFormat       string
	SessionID            string // empty for spot checks
	IsSpotCheck          bool
	GroundTruthExists    bool
	RespondWithinSeconds int
}

// Outcome is the result of delivering and classifying one Request.
type Outcome struct {
	ChallengeID    string
	Status         Status
	Reason         string
	Attempted      bool
	ResponseTimeMS int64
	ResponseText   string
	ParsedData     string
}

// DeliveryObserver is notified of every delivery attempt, independent of the
// verification outcome, mirroring the ambient webhook-delivery-metrics
// pattern named in SPEC_FULL.md §10.
type DeliveryObserver interface {
	RecordWebhookDelivery(eventType string, statusCode int, duration time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) RecordWebhookDelivery(string, int, time.Duration, error) {}

// Validator resolves whether a challenge response is correct for its
// template. Satisfied by (*challenge.Library).Validate and
// (*challenge.Library).ExtractData.
type Validator interface {
	Validate(templateID, responseText string) bool
	ExtractData(templateID, responseText string) string
}

// Dispatcher delivers challenge bursts over HTTPS and classifies outcomes.
type Dispatcher struct {
	httpClient *http.Client
	validator  Validator
	observer   DeliveryObserver
	log        logr.Logger
}

// New builds a Dispatcher. httpClient's Transport should already carry any
// SSRF-guarding dialer (internal/ssrf); Dispatcher itself only manages
// per-request and per-burst deadlines, not destination validation.
func New(httpClient *http.Client, validator Validator, observer DeliveryObserver, log logr.Logger) *Dispatcher {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Dispatcher{httpClient: httpClient, validator: validator, observer: observer, log: log}
}

// DeliverBurst sends every request in the burst concurrently to webhookURL,
// under the shared burstTimeout, with each individual delivery additionally
// bounded by responseTimeout. Returns one Outcome per Request, in the same
// order as reqs. The burst scope is cancelled on return, so no goroutine or
// connection outlives this call.
func (d *Dispatcher) DeliverBurst(ctx context.Context, webhookURL, sessionID string, reqs []Request, burstTimeout, responseTimeout time.Duration) []Outcome {
	burstCtx, cancel := context.WithTimeout(ctx, burstTimeout)
	defer cancel()

	outcomes := make([]Outcome, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			outcomes[i] = d.deliverOne(burstCtx, webhookURL, req, responseTimeout)
		}(i, req)
	}
	wg.Wait()

	return outcomes
}

type requestEnvelope struct {
	Type                 string `json:"type"`
	ChallengeID          string `json:"challenge_id"`
	Prompt               string `json:"prompt"`
	Category             string `json:"category"`
	Subcategory          string `json:"subcategory,omitempty"`
	ExpectedFormat       string `json:"expected_format,omitempty"`
	RespondWithinSeconds int    `json:"respond_within_seconds"`
}

// responseEnvelope accepts any of the three field names the spec allows an
// agent to reply with; Response, Answer, and Content are tried in that
// order and the first non-empty one wins.
type responseEnvelope struct {
	Response string `json:"response"`
	Answer   string `json:"answer"`
	Content  string `json:"content"`
}

func (d *Dispatcher) deliverOne(burstCtx context.Context, webhookURL string, req Request, responseTimeout time.Duration) Outcome {
	reqCtx, cancel := context.WithTimeout(burstCtx, responseTimeout)
	defer cancel()

	envelope := requestEnvelope{
		Type:                 wireDeliveryType(req.IsSpotCheck),
		ChallengeID:          req.ChallengeID,
		Prompt:               req.Prompt,
		Category:             string(req.Category),
		Subcategory:          req.Subcategory,
		ExpectedFormat:       req.ExpectedFormat,
		RespondWithinSeconds: req.RespondWithinSeconds,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return Outcome{ChallengeID: req.ChallengeID, Status: StatusSkipped, Reason: ReasonOffline}
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{ChallengeID: req.ChallengeID, Status: StatusSkipped, Reason: ReasonOffline}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Verification", "true")
	httpReq.Header.Set("X-Challenge-ID", req.ChallengeID)
	if req.IsSpotCheck {
		httpReq.Header.Set("X-SpotCheck", "true")
	} else {
		httpReq.Header.Set("X-Session-ID", req.SessionID)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(httpReq)
	elapsed := time.Since(start)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	d.observer.RecordWebhookDelivery(metricsEventType(req.IsSpotCheck), statusCode, elapsed, err)

	if err != nil {
		if errors.Is(burstCtx.Err(), context.DeadlineExceeded) && elapsed >= 0 {
			return Outcome{ChallengeID: req.ChallengeID, Status: StatusSkipped, Reason: ReasonBurstTimeout}
		}
		return Outcome{ChallengeID: req.ChallengeID, Status: StatusSkipped, Reason: ReasonOffline}
	}
	defer resp.Body.Close()

	rt := elapsed.Milliseconds()

	switch {
	case statusCode >= 500:
		return Outcome{ChallengeID: req.ChallengeID, Status: StatusSkipped, Reason: ReasonOffline, ResponseTimeMS: rt}
	case statusCode >= 400:
		return Outcome{ChallengeID: req.ChallengeID, Status: StatusFailed, Reason: ReasonHTTPClass, Attempted: true, ResponseTimeMS: rt}
	}

	responseText := readResponseText(resp.Body)

	if rt > responseTimeout.Milliseconds() {
		return Outcome{ChallengeID: req.ChallengeID, Status: StatusFailed, Reason: ReasonSlow, Attempted: true, ResponseTimeMS: rt, ResponseText: responseText}
	}

	if len(responseText) < 10 {
		return Outcome{ChallengeID: req.ChallengeID, Status: StatusFailed, Reason: "too_short", Attempted: true, ResponseTimeMS: rt, ResponseText: responseText}
	}

	gate := scoring.QualityGate(req.Category, req.GroundTruthExists, responseText)
	if !gate.Pass {
		return Outcome{ChallengeID: req.ChallengeID, Status: StatusFailed, Reason: gate.Reason, Attempted: true, ResponseTimeMS: rt, ResponseText: responseText}
	}

	if !d.validator.Validate(req.TemplateID, responseText) {
		return Outcome{ChallengeID: req.ChallengeID, Status: StatusFailed, Reason: "validator_rejected", Attempted: true, ResponseTimeMS: rt, ResponseText: responseText}
	}

	return Outcome{
		ChallengeID:    req.ChallengeID,
		Status:         StatusPassed,
		Attempted:      true,
		ResponseTimeMS: rt,
		ResponseText:   responseText,
		ParsedData:     d.validator.ExtractData(req.TemplateID, responseText),
	}
}

// wireDeliveryType is the "type" value sent to the agent's webhook
// (SPEC_FULL.md §6): agents key their handling off this exact string.
func wireDeliveryType(isSpotCheck bool) string {
	if isSpotCheck {
		return "spot_check"
	}
	return "verification_challenge"
}

// metricsEventType is the internal label used for delivery metrics/observer
// events; it need not match the wire type.
func metricsEventType(isSpotCheck bool) string {
	if isSpotCheck {
		return "spot_check"
	}
	return "gauntlet"
}

func readResponseText(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return ""
	}
	var env responseEnvelope
	if json.Unmarshal(data, &env) == nil {
		switch {
		case env.Response != "":
			return env.Response
		case env.Answer != "":
			return env.Answer
		case env.Content != "":
			return env.Content
		}
	}
	return string(data)
}
