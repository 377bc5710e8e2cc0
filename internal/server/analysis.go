package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/glyzaarcibal/Vera/internal/store"
)

// ErrAnalysisInFlight reports that an analysis for the same session is
// already running and the duplicate trigger was skipped.
var ErrAnalysisInFlight = errors.New("analysis already in flight for session")

// AnalysisError marks a risk-analysis failure: endpoint error, non-JSON
// output, or a schema violation. It never reaches the end user.
type AnalysisError struct {
	SessionID string
	Err       error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze session %s: %v", e.SessionID, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// RiskVerdict is the structured result the analyzer extracts from the chat
// endpoint. RiskLevel and RiskScore are always produced together.
type RiskVerdict struct {
	Summary   string `json:"summary"`
	RiskLevel string `json:"risk_level"`
	RiskScore int    `json:"risk_score"`
}

// RiskAnalyzer submits a rendered transcript to the chat-completion endpoint
// with the analysis-only prompt and writes the parsed verdict onto the
// session row. Analyses for the same session are coalesced: while one is in
// flight, further triggers are skipped rather than queued, since every run
// recomputes the verdict over the full transcript anyway.
type RiskAnalyzer struct {
	ai    AIClient
	store store.DataStore

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewRiskAnalyzer(ai AIClient, st store.DataStore) *RiskAnalyzer {
	return &RiskAnalyzer{
		ai:       ai,
		store:    st,
		inFlight: make(map[string]struct{}),
	}
}

// Analyze runs one full read-recompute-write cycle for the session. The
// verdict overwrites any previous one; a failure leaves the session's prior
// risk fields untouched.
func (r *RiskAnalyzer) Analyze(ctx context.Context, sessionID string, transcript []ChatTurn) (RiskVerdict, error) {
	if len(transcript) == 0 {
		return RiskVerdict{}, &AnalysisError{SessionID: sessionID, Err: errors.New("empty transcript")}
	}

	r.mu.Lock()
	if _, busy := r.inFlight[sessionID]; busy {
		r.mu.Unlock()
		return RiskVerdict{}, fmt.Errorf("session %s: %w", sessionID, ErrAnalysisInFlight)
	}
	r.inFlight[sessionID] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inFlight, sessionID)
		r.mu.Unlock()
	}()

	resp, err := r.ai.Query(ctx, AIModelRequest{
		SystemPrompt: analysisPrompt,
		UserPrompt:   "Please analyze the following conversation:\n\n" + renderTranscript(transcript),
	})
	if err != nil {
		return RiskVerdict{}, &AnalysisError{SessionID: sessionID, Err: err}
	}

	verdict, err := parseRiskVerdict(resp.Answer)
	if err != nil {
		return RiskVerdict{}, &AnalysisError{SessionID: sessionID, Err: err}
	}

	if err := r.store.UpdateSessionAnalysis(ctx, sessionID, verdict.Summary, verdict.RiskLevel, verdict.RiskScore); err != nil {
		return RiskVerdict{}, &AnalysisError{SessionID: sessionID, Err: err}
	}
	return verdict, nil
}

// renderTranscript flattens the conversation into the "<role>: <content>"
// form the analysis prompt expects, entries separated by blank lines.
func renderTranscript(transcript []ChatTurn) string {
	lines := make([]string, 0, len(transcript))
	for _, turn := range transcript {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Role, turn.Content))
	}
	return strings.Join(lines, "\n\n")
}

// parseRiskVerdict requires the raw response to be exactly one JSON object
// with the three contract keys. Markdown fencing, leading prose, trailing
// text, unknown keys, out-of-range scores, and unknown levels are all parse
// failures; nothing is cleaned up.
func parseRiskVerdict(raw string) (RiskVerdict, error) {
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.DisallowUnknownFields()

	var payload struct {
		Summary   *string `json:"summary"`
		RiskLevel *string `json:"risk_level"`
		RiskScore *int    `json:"risk_score"`
	}
	if err := decoder.Decode(&payload); err != nil {
		return RiskVerdict{}, fmt.Errorf("invalid analysis JSON: %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return RiskVerdict{}, errors.New("invalid analysis JSON: trailing content after object")
	}

	if payload.Summary == nil {
		return RiskVerdict{}, errors.New("analysis JSON missing summary")
	}
	if payload.RiskLevel == nil {
		return RiskVerdict{}, errors.New("analysis JSON missing risk_level")
	}
	if payload.RiskScore == nil {
		return RiskVerdict{}, errors.New("analysis JSON missing risk_score")
	}

	level := strings.TrimSpace(*payload.RiskLevel)
	if !validRiskLevel(level) {
		return RiskVerdict{}, fmt.Errorf("analysis JSON has unknown risk_level %q", level)
	}
	score := *payload.RiskScore
	if score < 0 || score > 100 {
		return RiskVerdict{}, fmt.Errorf("analysis JSON risk_score %d is out of range", score)
	}

	return RiskVerdict{
		Summary:   *payload.Summary,
		RiskLevel: level,
		RiskScore: score,
	}, nil
}

func validRiskLevel(level string) bool {
	for _, allowed := range store.RiskLevels {
		if level == allowed {
			return true
		}
	}
	return false
}
