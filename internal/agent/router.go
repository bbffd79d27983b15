// Package agent drives the model loop: it sends conversation state to
// the model, validates and executes the tool calls the model proposes,
// feeds results back, and repeats until the model produces a final
// response or a terminal failure stops the turn.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/libris-ai/libris/internal/conversation"
	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/registry"
)

const (
	// DefaultMaxToolCalls bounds executed tool invocations per turn.
	DefaultMaxToolCalls = 8

	// DefaultToolTimeout applies to tools whose spec sets no timeout.
	DefaultToolTimeout = 30 * time.Second

	// FallbackResponse is used when the model produces no text at all.
	FallbackResponse = "I wasn't able to generate a response. Please try rephrasing your question."
)

// Request is one user turn to run.
type Request struct {
	History []*ai.Message // prior turns, oldest first
	Message string        // the user's message, attachments already resolved to text
}

// Result is the outcome of a run. It is non-nil even when Run returns
// an error, carrying the invocations completed and the text accumulated
// before the failure.
type Result struct {
	Text        string
	Invocations []conversation.ToolInvocation
}

// Sink receives router progress during a run: one callback per
// completed tool invocation, and cumulative response text as it
// streams. A sink error stops the run like a cancellation.
type Sink interface {
	ToolCompleted(ctx context.Context, inv conversation.ToolInvocation) error
	ResponseText(ctx context.Context, cumulative string) error
}

// Config contains all parameters for the Router.
type Config struct {
	Genkit   *genkit.Genkit
	Registry *registry.Registry
	Logger   log.Logger

	ModelName    string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	SystemPrompt string
	Temperature  float64
	MaxToolCalls int           // executed invocations per turn (default DefaultMaxToolCalls)
	ToolTimeout  time.Duration // per-invocation default (default DefaultToolTimeout)

	RetryConfig          RetryConfig          // zero value uses defaults
	CircuitBreakerConfig CircuitBreakerConfig // zero value uses defaults
	RateLimiter          *rate.Limiter        // nil uses the default limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Registry == nil {
		return errors.New("tool registry is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Router runs user turns against the model. One Router serves the whole
// process; per-turn state lives in Run locals, so concurrent runs are
// safe.
type Router struct {
	g        *genkit.Genkit
	registry *registry.Registry
	logger   log.Logger

	modelName    string
	systemPrompt string
	temperature  float64
	maxToolCalls int
	toolTimeout  time.Duration

	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker
	rateLimiter    *rate.Limiter
}

// New creates a Router, applying defaults for zero config values.
func New(cfg Config) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxToolCalls := cfg.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = DefaultMaxToolCalls
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = DefaultToolTimeout
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	r := &Router{
		g:              cfg.Genkit,
		registry:       cfg.Registry,
		logger:         cfg.Logger,
		modelName:      cfg.ModelName,
		systemPrompt:   cfg.SystemPrompt,
		temperature:    cfg.Temperature,
		maxToolCalls:   maxToolCalls,
		toolTimeout:    toolTimeout,
		retryConfig:    retryConfig,
		circuitBreaker: NewCircuitBreaker(cfg.CircuitBreakerConfig),
		rateLimiter:    rl,
	}

	r.logger.Debug("router initialized",
		"model", r.modelName,
		"tools", strings.Join(r.registry.Names(), ", "),
		"max_tool_calls", r.maxToolCalls)
	return r, nil
}

// Run executes one user turn. The returned Result is always non-nil;
// when err is non-nil it carries whatever completed before the failure.
// For a terminal tool failure Result.Text holds a response acknowledging
// the error, so the stream can still close with a response event.
func (r *Router) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	res := &Result{}
	if strings.TrimSpace(req.Message) == "" {
		return res, errors.New("empty message")
	}

	start := time.Now()
	msgs := make([]*ai.Message, 0, len(req.History)+1)
	msgs = append(msgs, req.History...)
	msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(req.Message)))

	var full strings.Builder
	executed := 0

	// Hard cap on model turns so a model that keeps proposing invalid
	// calls (which never consume budget) cannot loop forever.
	turnLimit := r.maxToolCalls + 4

	for turn := 0; ; turn++ {
		if err := ctx.Err(); err != nil {
			res.Text = full.String()
			return res, err
		}

		allowTools := executed < r.maxToolCalls && turn < turnLimit && r.registry.Len() > 0

		opts := []ai.GenerateOption{
			ai.WithModelName(r.modelName),
			ai.WithMessages(msgs...),
		}
		if r.systemPrompt != "" {
			opts = append(opts, ai.WithSystem(r.systemPrompt))
		}
		if r.temperature > 0 {
			opts = append(opts, ai.WithConfig(map[string]any{"temperature": r.temperature}))
		}
		if allowTools {
			opts = append(opts,
				ai.WithTools(r.registry.Refs()...),
				ai.WithReturnToolRequests(true))
		}

		var sinkErr error
		turnStreamed := false
		if sink != nil {
			opts = append(opts, ai.WithStreaming(func(cctx context.Context, chunk *ai.ModelResponseChunk) error {
				text := chunk.Text()
				if text == "" {
					return nil
				}
				turnStreamed = true
				full.WriteString(text)
				if err := sink.ResponseText(cctx, full.String()); err != nil {
					sinkErr = fmt.Errorf("%w: %v", ErrSinkClosed, err)
					return sinkErr
				}
				return nil
			}))
		}

		if err := r.circuitBreaker.Allow(); err != nil {
			r.logger.Warn("circuit breaker open, rejecting model call",
				"state", r.circuitBreaker.State().String())
			res.Text = full.String()
			return res, fmt.Errorf("model unavailable: %w", err)
		}

		resp, err := r.generateWithRetry(ctx, opts)
		if sinkErr != nil {
			res.Text = full.String()
			return res, sinkErr
		}
		if err != nil {
			r.circuitBreaker.Failure()
			res.Text = full.String()
			return res, err
		}
		r.circuitBreaker.Success()

		// Text the model returned without streaming still belongs in
		// the cumulative response.
		if !turnStreamed {
			if text := resp.Text(); text != "" {
				full.WriteString(text)
				if sink != nil {
					if err := sink.ResponseText(ctx, full.String()); err != nil {
						res.Text = full.String()
						return res, fmt.Errorf("%w: %v", ErrSinkClosed, err)
					}
				}
			}
		}

		reqs := resp.ToolRequests()
		if len(reqs) == 0 {
			break
		}

		// The model's own message, tool request parts included, must
		// precede the tool responses in the transcript.
		msgs = append(msgs, resp.Message)

		parts, batchErr := r.executeBatch(ctx, reqs, sink, res, &executed)
		if batchErr != nil {
			res.Text = r.terminalText(&full, batchErr)
			return res, batchErr
		}
		msgs = append(msgs, ai.NewMessage(ai.RoleTool, nil, parts...))
	}

	res.Text = full.String()
	if strings.TrimSpace(res.Text) == "" {
		r.logger.Warn("model returned empty response", "invocations", len(res.Invocations))
		res.Text = FallbackResponse
	}

	r.logger.Debug("run completed",
		"elapsed", time.Since(start),
		"invocations", len(res.Invocations),
		"response_length", len(res.Text))
	return res, nil
}

// terminalText composes the final response for a terminal failure. Any
// text already streamed stays; the acknowledgment is appended so the
// last payload still contains everything the consumer has seen.
// Cancellation keeps the partial text as is.
func (r *Router) terminalText(full *strings.Builder, err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrSinkClosed) {
		return full.String()
	}

	var ack string
	var execErr *ToolExecutionError
	switch {
	case errors.As(err, &execErr) && execErr.TimedOut:
		ack = fmt.Sprintf("I couldn't complete your request: the %s step timed out.", execErr.Tool)
	case errors.As(err, &execErr):
		ack = fmt.Sprintf("I couldn't complete your request: the %s step failed (%v).", execErr.Tool, execErr.Err)
	default:
		ack = "I couldn't complete your request because a required step failed."
	}

	if full.Len() == 0 {
		return ack
	}
	return full.String() + "\n\n" + ack
}

// toolPlan is one proposed call after resolution and validation.
type toolPlan struct {
	req  *ai.ToolRequest
	spec *registry.ToolSpec // nil when the tool is unknown
	args map[string]any
	verr error // non-nil when arguments failed schema validation
}

// executeBatch runs one batch of proposed calls in proposal order and
// returns the tool response parts for the next model turn. When every
// call in the batch targets a parallelizable tool, passes validation
// and fits the remaining budget, the batch runs concurrently; events
// and results are still assembled in proposal order.
//
// A non-nil error is terminal for the run: a Required tool failed, the
// sink closed, or the context was canceled.
func (r *Router) executeBatch(ctx context.Context, reqs []*ai.ToolRequest, sink Sink, res *Result, executed *int) ([]*ai.Part, error) {
	plans := make([]toolPlan, len(reqs))
	for i, req := range reqs {
		plan := toolPlan{req: req, args: coerceArgs(req.Input)}
		spec, err := r.registry.Resolve(req.Name)
		if err != nil {
			plans[i] = plan
			continue
		}
		plan.spec = spec
		if err := spec.ValidateArgs(plan.args); err != nil {
			plan.verr = &InvalidArgumentsError{Tool: req.Name, Args: plan.args, Err: err}
		}
		plans[i] = plan
	}

	type outcome struct {
		out     any
		err     error
		elapsed int64
		ran     bool
	}
	outcomes := make([]outcome, len(plans))

	if r.parallelizable(plans) && len(plans) <= r.maxToolCalls-*executed {
		var wg sync.WaitGroup
		for i := range plans {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				start := time.Now()
				out, err := r.executeOne(ctx, plans[i].spec, plans[i].args)
				outcomes[i] = outcome{out: out, err: err, elapsed: time.Since(start).Milliseconds(), ran: true}
			}(i)
		}
		wg.Wait()
		*executed += len(plans)
	}

	var terminal error
	parts := make([]*ai.Part, 0, len(plans))
	for i, plan := range plans {
		inv := conversation.ToolInvocation{Tool: plan.req.Name, Args: plan.args}
		var output any

		switch {
		case plan.spec == nil:
			inv.Err = fmt.Sprintf("tool %q is not available", plan.req.Name)
			output = map[string]any{"error": inv.Err}
			r.logger.Warn("model proposed unknown tool", "tool", plan.req.Name)

		case plan.verr != nil:
			inv.Err = plan.verr.Error()
			output = map[string]any{"error": inv.Err}
			r.logger.Warn("rejected tool arguments", "tool", plan.req.Name, "error", plan.verr)

		case !outcomes[i].ran && *executed >= r.maxToolCalls:
			inv.Err = "tool call limit reached; call not executed"
			output = map[string]any{"error": inv.Err}
			r.logger.Warn("tool call budget exhausted", "tool", plan.req.Name, "limit", r.maxToolCalls)

		default:
			oc := outcomes[i]
			if !oc.ran {
				start := time.Now()
				oc.out, oc.err = r.executeOne(ctx, plan.spec, plan.args)
				oc.elapsed = time.Since(start).Milliseconds()
				*executed++
			}
			inv.ElapsedMs = oc.elapsed

			if oc.err != nil {
				if errors.Is(oc.err, context.Canceled) && ctx.Err() != nil {
					// Run canceled mid-batch; report completed work only.
					return parts, ctx.Err()
				}
				timedOut := errors.Is(oc.err, context.DeadlineExceeded)
				inv.Err = oc.err.Error()
				inv.TimedOut = timedOut
				output = map[string]any{"error": oc.err.Error()}
				execErr := &ToolExecutionError{Tool: plan.req.Name, Err: oc.err, TimedOut: timedOut}
				r.logger.Warn("tool invocation failed",
					"tool", plan.req.Name,
					"timed_out", timedOut,
					"elapsed_ms", oc.elapsed,
					"error", oc.err)
				if plan.spec.Required {
					terminal = execErr
				}
			} else {
				inv.Result = stringifyOutput(oc.out)
				output = oc.out
				r.logger.Debug("tool invocation completed",
					"tool", plan.req.Name,
					"elapsed_ms", oc.elapsed)
			}
		}

		parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
			Name:   plan.req.Name,
			Ref:    plan.req.Ref,
			Output: output,
		}))
		res.Invocations = append(res.Invocations, inv)

		if sink != nil {
			if err := sink.ToolCompleted(ctx, inv); err != nil {
				return parts, fmt.Errorf("%w: %v", ErrSinkClosed, err)
			}
		}

		if terminal != nil {
			// A Required tool failed; the rest of the batch is dropped.
			return parts, terminal
		}
	}

	return parts, nil
}

// parallelizable reports whether the whole batch may run concurrently.
func (r *Router) parallelizable(plans []toolPlan) bool {
	if len(plans) < 2 {
		return false
	}
	for _, plan := range plans {
		if plan.spec == nil || plan.verr != nil || !plan.spec.Parallelizable {
			return false
		}
	}
	return true
}

// executeOne runs a single invocation under its timeout. The handler
// goroutine is abandoned if it outlives the deadline; handlers are
// expected to honor ctx.
func (r *Router) executeOne(ctx context.Context, spec *registry.ToolSpec, args map[string]any) (any, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.toolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		out any
		err error
	}
	done := make(chan reply, 1)
	go func() {
		out, err := spec.Execute(callCtx, args)
		done <- reply{out: out, err: err}
	}()

	select {
	case rep := <-done:
		return rep.out, rep.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

// coerceArgs normalizes a proposed tool input to a map for validation.
func coerceArgs(input any) map[string]any {
	switch v := input.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	default:
		b, err := json.Marshal(input)
		if err != nil {
			return map[string]any{}
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return map[string]any{}
		}
		return m
	}
}

// stringifyOutput renders a tool result for persistence and traces.
func stringifyOutput(out any) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
