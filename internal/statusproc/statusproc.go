// Package statusproc maps a target-native status document to a Deposit
// status, the last stage of spec.md §4.7's DepositStatusRefresher (spec.md
// §4.3, §4.4).
//
// Two interpreters are provided: one for SWORDv2 Atom status documents
// (sword:state terms), one for the filesystem/test targets' JSON status
// blobs. Both resolve the native term through the target's configured
// statusMapping table (internal/registry) rather than hardcoding any
// target's vocabulary.
package statusproc

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"

	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/registry"
)

// Processor resolves a Deposit's current logical status by fetching and
// interpreting its target's status document.
//
// Resolve returns ok=false when the native term maps to "null" — an
// unrecognized status-document term. Per spec.md §4.7/§9, this is not an
// error the Deposit is penalized for: the caller must leave the Deposit's
// status unchanged (SUBMITTED) and may retry on a later refresh, never
// guessing a terminal outcome.
type Processor interface {
	Resolve(ctx context.Context, statusURL string, cfg registry.TargetConfig) (status model.DepositStatus, ok bool, err error)
}

// New resolves the Processor implementation named by cfg.StatusProcessor.
func New(name string) (Processor, error) {
	switch name {
	case "", "sword":
		return &SWORDStatusProcessor{Client: &http.Client{}}, nil
	case "json":
		return &JSONStatusProcessor{Client: &http.Client{}}, nil
	default:
		return nil, fmt.Errorf("statusproc: unknown processor %q", name)
	}
}

// resolveMapping turns a target-native term into a model.DepositStatus,
// returning ok=false for an unrecognized term (which the caller must treat
// as "leave SUBMITTED, do not guess" per spec.md §9).
func resolveMapping(cfg registry.TargetConfig, nativeTerm string) (model.DepositStatus, bool) {
	switch registry.MapStatus(cfg, nativeTerm) {
	case "ACCEPTED":
		return model.DepositStatusAccepted, true
	case "REJECTED":
		return model.DepositStatusRejected, true
	case "SUBMITTED":
		return model.DepositStatusSubmitted, true
	default:
		return model.DepositStatusNull, false
	}
}

// SWORDStatusProcessor interprets a SWORDv2 Atom status document's
// sword:state term.
type SWORDStatusProcessor struct {
	Client *http.Client
}

type swordStatusDocument struct {
	XMLName xml.Name `xml:"statement"`
	State   struct {
		Term string `xml:"term,attr"`
	} `xml:"state"`
}

func (p *SWORDStatusProcessor) Resolve(ctx context.Context, statusURL string, cfg registry.TargetConfig) (model.DepositStatus, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return model.DepositStatusNull, false, fmt.Errorf("statusproc/sword: build request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return model.DepositStatusNull, false, fmt.Errorf("statusproc/sword: fetch %s: %w", statusURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return model.DepositStatusNull, false, fmt.Errorf("statusproc/sword: status %d fetching %s: %s", resp.StatusCode, statusURL, body)
	}

	var doc swordStatusDocument
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return model.DepositStatusNull, false, fmt.Errorf("statusproc/sword: parse %s: %w", statusURL, err)
	}

	status, ok := resolveMapping(cfg, doc.State.Term)
	return status, ok, nil
}

// JSONStatusProcessor interprets a `{"status": "<native term>"}` document,
// used by the filesystem/test targets.
type JSONStatusProcessor struct {
	Client *http.Client
}

type jsonStatusDocument struct {
	Status string `json:"status"`
}

func (p *JSONStatusProcessor) Resolve(ctx context.Context, statusURL string, cfg registry.TargetConfig) (model.DepositStatus, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return model.DepositStatusNull, false, fmt.Errorf("statusproc/json: build request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return model.DepositStatusNull, false, fmt.Errorf("statusproc/json: fetch %s: %w", statusURL, err)
	}
	defer resp.Body.Close()

	var doc jsonStatusDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return model.DepositStatusNull, false, fmt.Errorf("statusproc/json: parse %s: %w", statusURL, err)
	}

	status, ok := resolveMapping(cfg, doc.Status)
	return status, ok, nil
}
