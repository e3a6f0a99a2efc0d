// Package mock provides a test double for the translate.Provider interface.
//
// Responses can be scripted per call:
//
//	p := &mock.Provider{Script: []mock.Step{
//	    {Err: errors.New("503")},
//	    {Response: translate.Response{Raw: `{"transcription":"a","translation":"b"}`}},
//	}}
//
// Once the script is exhausted the last step repeats.
package mock

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/translate"
)

var _ translate.Provider = (*Provider)(nil)

// Step is one scripted answer.
type Step struct {
	Response translate.Response
	Err      error

	// Delay blocks the call before answering. Cancelling ctx ends the wait
	// early with ctx.Err().
	Delay time.Duration
}

// TranslateCall records a single invocation of Translate.
type TranslateCall struct {
	Ctx context.Context
	Req translate.Request
	At  time.Time
}

// Provider is a mock implementation of translate.Provider.
type Provider struct {
	mu sync.Mutex

	// Script lists the answers for consecutive calls.
	Script []Step

	// TranslateFunc, when set, overrides Script.
	TranslateFunc func(ctx context.Context, req translate.Request) (translate.Response, error)

	// Calls records every invocation of Translate in order.
	Calls []TranslateCall
}

// Translate records the call and plays the next scripted step.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (translate.Response, error) {
	p.mu.Lock()
	idx := len(p.Calls)
	p.Calls = append(p.Calls, TranslateCall{Ctx: ctx, Req: req, At: time.Now()})
	fn := p.TranslateFunc
	var step Step
	if len(p.Script) > 0 {
		step = p.Script[min(idx, len(p.Script)-1)]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if step.Delay > 0 {
		t := time.NewTimer(step.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return translate.Response{}, ctx.Err()
		}
	}
	return step.Response, step.Err
}

// CallCount returns the number of Translate invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Requests returns a copy of all requests received so far.
func (p *Provider) Requests() []translate.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]translate.Request, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Req
	}
	return out
}

// JSON returns a Step answering with a well-formed JSON payload.
func JSON(transcript, translation, lang string, confidence float64) Step {
	raw := `{"transcription":` + quote(transcript) +
		`,"translation":` + quote(translation) +
		`,"detectedLanguage":` + quote(lang) +
		`,"confidence":` + formatFloat(confidence) + `}`
	return Step{Response: translate.Response{Raw: raw}}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
