package annotate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsai/internal/provider"
)

const DefaultRequestTimeout = 30 * time.Second

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable_failure"
	default:
		return "terminal_failure"
	}
}

// Outcome is the typed result of one provider attempt for one article.
type Outcome struct {
	Kind       OutcomeKind
	Result     Result
	Provider   string
	Endpoint   string
	Model      string
	Code       string
	Err        error
	Downgraded bool
	Calls      int
}

// Recorder receives per-call provider health events.
type Recorder interface {
	RecordRequest(provider, endpoint string)
	RecordSuccess(provider, endpoint string)
	RecordError(provider, endpoint, code, message string) string
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string)                      {}
func (nopRecorder) RecordSuccess(string, string)                      {}
func (nopRecorder) RecordError(string, string, string, string) string { return "" }

// Executor sends completion requests and interprets their answers.
type Executor struct {
	Format           provider.FormatMode
	Timeout          time.Duration
	MaxResponseBytes int64
	Recorder         Recorder
	Logger           zerolog.Logger
}

// Execute runs one provider attempt. A provider that rejects the requested
// response format is retried exactly once with FormatOff.
func (e *Executor) Execute(ctx context.Context, p provider.Provider, systemPrompt, prompt string) Outcome {
	recorder := e.recorder()
	format := e.Format
	if format == "" {
		format = provider.FormatJSONObject
	}

	out := Outcome{
		Provider: p.Name(),
		Endpoint: p.Endpoint(),
		Model:    p.Model(),
	}
	for {
		out.Calls++
		req := provider.CompletionRequest{
			SystemPrompt:     systemPrompt,
			Prompt:           prompt,
			Format:           format,
			MaxResponseBytes: e.MaxResponseBytes,
		}
		if format == provider.FormatJSONSchema {
			req.Schema = RequestSchema()
			req.SchemaName = schemaName
		}

		recorder.RecordRequest(out.Provider, out.Endpoint)
		resp, err := e.complete(ctx, p, req)
		if err == nil {
			if resp.Model != "" {
				out.Model = resp.Model
			}
			result, parseErr := ParseResult(resp.Text, format)
			if parseErr == nil {
				recorder.RecordSuccess(out.Provider, out.Endpoint)
				out.Kind = OutcomeSuccess
				out.Result = result
				return out
			}
			err = &provider.Error{
				Kind:     provider.ErrParse,
				Provider: out.Provider,
				Endpoint: out.Endpoint,
				Code:     provider.CodeParse,
				Message:  parseErr.Error(),
				Err:      parseErr,
			}
		}

		out.Err = err
		out.Code = provider.ErrorCode(err)
		requestID := recorder.RecordError(out.Provider, out.Endpoint, out.Code, err.Error())
		e.Logger.Warn().
			Err(err).
			Str("provider", out.Provider).
			Str("code", out.Code).
			Str("format", string(format)).
			Str("request_id", requestID).
			Msg("completion attempt failed")

		if errors.Is(err, provider.ErrUnsupportedFormat) && format != provider.FormatOff && !out.Downgraded {
			format = provider.FormatOff
			out.Downgraded = true
			continue
		}
		if provider.IsRetryable(err) {
			out.Kind = OutcomeRetryable
		} else {
			out.Kind = OutcomeTerminal
		}
		return out
	}
}

func (e *Executor) complete(ctx context.Context, p provider.Provider, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Complete(callCtx, req)
}

func (e *Executor) recorder() Recorder {
	if e.Recorder == nil {
		return nopRecorder{}
	}
	return e.Recorder
}

// RunResult collects the attempts made for one article.
type RunResult struct {
	Success  *Outcome
	Attempts []Outcome
}

// Failed is the number of provider attempts that did not produce a result.
func (r RunResult) Failed() int {
	if r.Success != nil {
		return len(r.Attempts) - 1
	}
	return len(r.Attempts)
}

// LastFailure returns the most recent failed attempt, if any.
func (r RunResult) LastFailure() *Outcome {
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		if r.Attempts[i].Kind != OutcomeSuccess {
			return &r.Attempts[i]
		}
	}
	return nil
}

// Annotate tries the ordered providers one after another, never the same
// provider twice, stopping at the first success or after
// min(len(ordered), maxAttempts) attempts.
func (e *Executor) Annotate(ctx context.Context, ordered []provider.Entry, systemPrompt, prompt string, maxAttempts int) RunResult {
	limit := min(len(ordered), maxAttempts)
	run := RunResult{Attempts: make([]Outcome, 0, max(limit, 0))}
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			break
		}
		outcome := e.Execute(ctx, ordered[i].Provider, systemPrompt, prompt)
		run.Attempts = append(run.Attempts, outcome)
		if outcome.Kind == OutcomeSuccess {
			run.Success = &run.Attempts[len(run.Attempts)-1]
			return run
		}
	}
	return run
}
