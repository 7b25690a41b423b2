// Package pipeline orchestrates one conversation turn: access checks,
// classification, prompt assembly, the model call, and persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nazanin-ai/nazanin/common/trace"
	"github.com/nazanin-ai/nazanin/internal/nazanin/classify"
	"github.com/nazanin-ai/nazanin/internal/nazanin/llm"
	"github.com/nazanin-ai/nazanin/internal/nazanin/prompt"
	"github.com/nazanin-ai/nazanin/internal/nazanin/security"
	"github.com/nazanin-ai/nazanin/internal/nazanin/sheets"
)

// Turn statuses.
const (
	StatusSuccess     = "success"
	StatusBlocked     = "blocked"
	StatusRateLimited = "rate_limited"
	StatusError       = "error"
)

// Error reasons for StatusError.
const (
	ReasonAllProvidersFailed = "all_providers_failed"
	ReasonCancelled          = "cancelled"
)

// Canned replies for turns that never reach a model.
const (
	blockedReply     = "Sorry, I can't chat with you."
	rateLimitedReply = "Too many requests. Give me a moment and try again."
	apologyReply     = "Sorry, I'm having trouble thinking right now. Please try again later."
)

const (
	defaultOuterTimeout  = 60 * time.Second
	defaultPersistRetry  = time.Second
	persistTimeout       = 30 * time.Second
	actionMessage        = "message"
	targetPipeline       = "pipeline"
	actionMessageDropped = "message_row_dropped"
)

// Result is the outcome of one handled turn.
type Result struct {
	Status         string
	Reason         string
	Reply          string
	Classification classify.Classification
	Elapsed        time.Duration
}

// Pipeline wires the turn components together. Construct with New;
// all dependencies are required except the logger.
type Pipeline struct {
	store      *sheets.Store
	gateway    *llm.Gateway
	classifier *classify.Classifier
	access     *security.AccessList
	limiter    *security.RateLimiter
	auditor    *security.Auditor
	logger     *slog.Logger

	role         string
	outerTimeout time.Duration
	persistRetry time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration)
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRole sets the assistant persona used in system prompts.
func WithRole(role string) PipelineOption {
	return func(p *Pipeline) { p.role = role }
}

// WithOuterTimeout bounds a whole turn end to end.
func WithOuterTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.outerTimeout = d
		}
	}
}

// WithPersistRetryDelay sets the pause before the single persistence
// retry. Tests set it to zero.
func WithPersistRetryDelay(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.persistRetry = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

func New(store *sheets.Store, gateway *llm.Gateway, classifier *classify.Classifier,
	access *security.AccessList, limiter *security.RateLimiter, auditor *security.Auditor,
	opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:        store,
		gateway:      gateway,
		classifier:   classifier,
		access:       access,
		limiter:      limiter,
		auditor:      auditor,
		logger:       slog.Default(),
		outerTimeout: defaultOuterTimeout,
		persistRetry: defaultPersistRetry,
		now:          time.Now,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle runs one turn for a principal. The returned Result always has
// a reply the adapter can send, whatever the status.
//
// Order is fixed: block check, rate limit, classify, prompt, generate,
// persist. Nothing durable happens before the model call; a turn that
// fails or is cancelled earlier leaves no conversation row. Denials and
// terminal failures still produce an audit row.
func (p *Pipeline) Handle(ctx context.Context, principal, text, platform string) Result {
	start := p.now()
	ctx, cancel := context.WithTimeout(ctx, p.outerTimeout)
	defer cancel()
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := p.logger.With("trace_id", trace.FromContext(ctx), "principal", principal)

	if p.access.IsBlocked(principal) {
		log.Info("turn denied", "status", StatusBlocked)
		p.auditor.Record(ctx, principal, actionMessage, targetPipeline, security.ResultBlocked)
		return Result{Status: StatusBlocked, Reply: blockedReply, Elapsed: p.now().Sub(start)}
	}
	if !p.limiter.Allow(principal) {
		log.Info("turn denied", "status", StatusRateLimited)
		p.auditor.Record(ctx, principal, actionMessage, targetPipeline, security.ResultRateLimited)
		return Result{Status: StatusRateLimited, Reply: rateLimitedReply, Elapsed: p.now().Sub(start)}
	}

	c := p.classifier.Classify(text)
	c.Metadata.Platform = platform
	env := prompt.Build(text, c, p.role)

	reply, err := p.gateway.Generate(ctx, env.Flatten())
	if err != nil {
		elapsed := p.now().Sub(start)
		reason := ReasonAllProvidersFailed
		if !errors.Is(err, llm.ErrAllProvidersFailed) && ctx.Err() != nil {
			reason = ReasonCancelled
		}
		log.Error("turn failed", "reason", reason, "error", err, "elapsed", elapsed)
		p.auditor.Record(ctx, principal, actionMessage, targetPipeline, security.ResultError)
		return Result{
			Status:         StatusError,
			Reason:         reason,
			Reply:          apologyReply,
			Classification: c,
			Elapsed:        elapsed,
		}
	}

	elapsed := p.now().Sub(start)

	// The reply exists and cost was incurred; persistence proceeds even
	// if the caller's context has since been cancelled.
	persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer persistCancel()
	p.persistTurn(persistCtx, log, principal, platform, text, reply, c, elapsed)
	p.auditor.Record(persistCtx, principal, actionMessage, targetPipeline, security.ResultSuccess)

	log.Info("turn complete",
		"category", c.Primary,
		"priority", c.Priority,
		"elapsed", elapsed)
	return Result{
		Status:         StatusSuccess,
		Reply:          reply,
		Classification: c,
		Elapsed:        elapsed,
	}
}

// persistTurn appends the conversation row and keeps the principal's
// profile fresh. Store failures never surface to the user: one delayed
// retry, then the row is dropped with an audit record.
func (p *Pipeline) persistTurn(ctx context.Context, log *slog.Logger,
	principal, platform, text, reply string, c classify.Classification, elapsed time.Duration) {

	turnContext, _ := json.Marshal(map[string]any{
		"category":           c.Primary,
		"response_type":      c.ResponseType,
		"processing_seconds": elapsed.Seconds(),
	})
	row := []string{
		p.now().UTC().Format(time.RFC3339),
		principal,
		platform,
		text,
		reply,
		c.Metadata.Sentiment,
		string(turnContext),
	}

	err := p.store.Append(ctx, sheets.WorkbookConversationData, sheets.SheetMessages, row)
	if err != nil {
		log.Warn("conversation row write failed, retrying once", "error", err)
		p.sleep(ctx, p.persistRetry)
		err = p.store.Append(ctx, sheets.WorkbookConversationData, sheets.SheetMessages, row)
	}
	if err != nil {
		log.Error("conversation row dropped", "error", err)
		p.auditor.Record(ctx, principal, actionMessageDropped, targetPipeline, security.ResultError)
		return
	}

	p.touchProfile(ctx, log, principal, platform)
}

// touchProfile upserts the principal's row in the profile sheet,
// bumping last_seen and message_count. Best effort.
func (p *Pipeline) touchProfile(ctx context.Context, log *slog.Logger, principal, platform string) {
	nowISO := p.now().UTC().Format(time.RFC3339)

	records, err := p.store.Read(ctx, sheets.WorkbookCoreData, sheets.SheetUserProfiles, true)
	if err != nil {
		log.Warn("profile read failed", "error", err)
		return
	}
	for i, rec := range records {
		if rec["user_id"] != principal {
			continue
		}
		// Data rows start below the header, so record i sits at row i+2.
		rowNum := i + 2
		count := 1
		fmt.Sscanf(rec["message_count"], "%d", &count)
		if err := p.store.UpdateCell(ctx, sheets.WorkbookCoreData, sheets.SheetUserProfiles, rowNum, 5, nowISO); err != nil {
			log.Warn("profile update failed", "error", err)
			return
		}
		if err := p.store.UpdateCell(ctx, sheets.WorkbookCoreData, sheets.SheetUserProfiles, rowNum, 6, fmt.Sprintf("%d", count+1)); err != nil {
			log.Warn("profile update failed", "error", err)
		}
		return
	}

	row := []string{principal, "", platform, nowISO, nowISO, "1"}
	if err := p.store.Append(ctx, sheets.WorkbookCoreData, sheets.SheetUserProfiles, row); err != nil {
		log.Warn("profile insert failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
