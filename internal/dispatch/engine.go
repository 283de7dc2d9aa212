// Package dispatch drains the pending queue and drives messages through the
// transport adapters. One RunOnce call is one complete invocation: fetch,
// group by account, send under quota, record outcomes, roll up campaigns.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/dispatch/internal/model"
	"github.com/embermail/dispatch/internal/provider"
	"github.com/embermail/dispatch/internal/store"
	"github.com/embermail/dispatch/internal/throttle"
	"github.com/embermail/dispatch/internal/tracking"
)

const maxErrorLength = 500

// Options tunes one engine instance.
type Options struct {
	BatchLimit  int
	Workers     int
	SendTimeout time.Duration
	Throttle    *throttle.Throttle // optional burst limiter for API transports
}

// Engine coordinates one dispatcher invocation.
type Engine struct {
	store    store.Store
	factory  provider.Factory
	injector *tracking.Injector
	limiter  *Limiter
	burst    *throttle.Throttle

	batchLimit  int
	workers     int
	sendTimeout time.Duration
}

// Summary reports what one invocation did with the batch it claimed.
type Summary struct {
	Fetched  int
	Sent     int
	Failed   int
	Deferred int // left pending for a later invocation
}

func NewEngine(st store.Store, factory provider.Factory, inj *tracking.Injector, opts Options) *Engine {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	return &Engine{
		store:       st,
		factory:     factory,
		injector:    inj,
		limiter:     NewLimiter(st),
		burst:       opts.Throttle,
		batchLimit:  opts.BatchLimit,
		workers:     opts.Workers,
		sendTimeout: opts.SendTimeout,
	}
}

// RunOnce processes a single batch and returns. A queue read failure aborts
// the invocation with nothing attempted; per-message failures never do.
func (e *Engine) RunOnce(ctx context.Context) (*Summary, error) {
	msgs, err := e.store.FetchPending(ctx, e.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}

	summary := &Summary{Fetched: len(msgs)}
	if len(msgs) == 0 {
		return summary, nil
	}

	groups, order := groupByAccount(msgs)
	log.Printf("[Dispatch] claimed %d messages across %d accounts", len(msgs), len(groups))

	// sem bounds in-flight sends across all groups.
	sem := make(chan struct{}, e.workers)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, accountID := range order {
		group := groups[accountID]
		wg.Add(1)
		go func(accountID uuid.UUID, group []*model.QueuedMessage) {
			defer wg.Done()
			res := e.processGroup(ctx, accountID, group, sem)
			mu.Lock()
			summary.Sent += res.sent
			summary.Failed += res.failed
			summary.Deferred += res.deferred
			mu.Unlock()
		}(accountID, group)
	}
	wg.Wait()

	for _, campaignID := range campaignsOf(msgs) {
		e.reconcileCampaign(ctx, campaignID)
	}
	return summary, nil
}

// groupByAccount splits the batch per account, preserving FIFO order inside
// each group and a deterministic account order.
func groupByAccount(msgs []*model.QueuedMessage) (map[uuid.UUID][]*model.QueuedMessage, []uuid.UUID) {
	groups := make(map[uuid.UUID][]*model.QueuedMessage)
	var order []uuid.UUID
	for _, m := range msgs {
		if _, ok := groups[m.AccountID]; !ok {
			order = append(order, m.AccountID)
		}
		groups[m.AccountID] = append(groups[m.AccountID], m)
	}
	return groups, order
}

func campaignsOf(msgs []*model.QueuedMessage) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, m := range msgs {
		if !seen[m.CampaignID] {
			seen[m.CampaignID] = true
			ids = append(ids, m.CampaignID)
		}
	}
	return ids
}

type groupResult struct {
	sent     int
	failed   int
	deferred int
}

func (e *Engine) processGroup(ctx context.Context, accountID uuid.UUID, group []*model.QueuedMessage, sem chan struct{}) groupResult {
	var res groupResult

	acct, err := e.store.FetchAccountConfig(ctx, accountID)
	if errors.Is(err, store.ErrAccountNotFound) {
		for _, msg := range group {
			e.markFailed(ctx, msg, 1, "unknown sending account")
			res.failed++
		}
		return res
	}
	if err != nil {
		// A store read failure leaves the group pending for the next pass.
		log.Printf("[Dispatch] account %s: config read failed, deferring %d messages: %v", accountID, len(group), err)
		res.deferred = len(group)
		return res
	}

	adapter, mode, err := e.factory.ForAccount(acct)
	if err != nil {
		for _, msg := range group {
			e.markFailed(ctx, msg, 1, err.Error())
			res.failed++
		}
		return res
	}
	if closer, ok := adapter.(provider.Closer); ok {
		defer closer.Close()
	}

	if mode == provider.ModeStateless {
		return e.sendConcurrent(ctx, acct, adapter, group, sem)
	}
	return e.sendSequential(ctx, acct, adapter, group, sem)
}

// sendSequential drives a connection-oriented session. A transport failure
// fails the in-flight message with an attempt charged and the remainder of
// the group without one, since they were never put on the wire. Invocation
// cancellation is not a transport fault: everything still unattempted stays
// pending for the next invocation.
func (e *Engine) sendSequential(ctx context.Context, acct *model.SendingAccount, adapter provider.Adapter, group []*model.QueuedMessage, sem chan struct{}) groupResult {
	var res groupResult
	for i, msg := range group {
		outcome := e.sendOne(ctx, acct, adapter, provider.ModeConnection, msg, sem)
		switch outcome {
		case outcomeSent:
			res.sent++
		case outcomeFailed:
			res.failed++
		case outcomeDeferred:
			res.deferred++
		case outcomeCancelled:
			res.deferred += len(group) - i
			return res
		case outcomeTransportFailed:
			res.failed++
			for _, rest := range group[i+1:] {
				e.markFailed(ctx, rest, 0, "transport failure before attempt")
				res.failed++
			}
			return res
		}
	}
	return res
}

func (e *Engine) sendConcurrent(ctx context.Context, acct *model.SendingAccount, adapter provider.Adapter, group []*model.QueuedMessage, sem chan struct{}) groupResult {
	var (
		res groupResult
		mu  sync.Mutex
		wg  sync.WaitGroup
	)
	for _, msg := range group {
		wg.Add(1)
		go func(msg *model.QueuedMessage) {
			defer wg.Done()
			outcome := e.sendOne(ctx, acct, adapter, provider.ModeStateless, msg, sem)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				res.sent++
			case outcomeFailed, outcomeTransportFailed:
				res.failed++
			case outcomeDeferred, outcomeCancelled:
				res.deferred++
			}
		}(msg)
	}
	wg.Wait()
	return res
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeDeferred
	outcomeTransportFailed
	outcomeCancelled // invocation cancelled, message stays pending
)

func (e *Engine) sendOne(ctx context.Context, acct *model.SendingAccount, adapter provider.Adapter, mode provider.Mode, msg *model.QueuedMessage, sem chan struct{}) outcome {
	if ctx.Err() != nil {
		return outcomeCancelled
	}

	// Burst throttle first: a denial leaves the message pending with no
	// quota consumed.
	if mode == provider.ModeStateless && e.burst != nil {
		allowed, wait, err := e.burst.Allow(ctx, acct.ID.String())
		if err != nil {
			log.Printf("[Dispatch] burst check failed for %s, proceeding: %v", acct.ID, err)
		} else if !allowed {
			log.Printf("[Dispatch] burst limit for %s, deferring message %s (retry in %s)", acct.ID, msg.ID, wait)
			return outcomeDeferred
		}
	}

	admitted, err := e.limiter.Admit(ctx, acct)
	if err != nil {
		log.Printf("[Dispatch] admission failed for message %s, deferring: %v", msg.ID, err)
		return outcomeDeferred
	}
	if !admitted {
		return outcomeDeferred
	}

	email := e.buildEmail(acct, msg)

	sem <- struct{}{}
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	result, err := adapter.Send(sendCtx, email)
	cancel()
	<-sem

	switch {
	case err == nil:
		e.markSent(ctx, msg, result.SentAt)
		return outcomeSent
	case provider.IsRejection(err):
		e.markFailed(ctx, msg, 1, err.Error())
		return outcomeFailed
	case provider.IsConfig(err):
		e.markFailed(ctx, msg, 1, err.Error())
		return outcomeFailed
	default:
		if ctx.Err() != nil {
			// The invocation was cancelled, not the transport. The message
			// stays pending and a later invocation retries it.
			log.Printf("[Dispatch] cancelled while sending message %s, deferring", msg.ID)
			return outcomeCancelled
		}
		e.markFailed(ctx, msg, 1, err.Error())
		return outcomeTransportFailed
	}
}

// buildEmail injects tracking and the unsubscribe header. Injection is
// deterministic, so a retried message carries identical URLs.
func (e *Engine) buildEmail(acct *model.SendingAccount, msg *model.QueuedMessage) *provider.Email {
	html := e.injector.Inject(msg.HTMLBody, acct.ID, msg.CampaignID, msg.ID)
	return &provider.Email{
		MessageID:  msg.ID,
		CampaignID: msg.CampaignID,
		FromName:   msg.FromName,
		FromEmail:  msg.FromEmail,
		ToEmail:    msg.ToEmail,
		Subject:    msg.Subject,
		HTMLBody:   html,
		Headers: map[string]string{
			"List-Unsubscribe-URL": e.injector.UnsubscribeURL(acct.ID, msg.CampaignID, msg.ID),
		},
	}
}

func (e *Engine) markSent(ctx context.Context, msg *model.QueuedMessage, sentAt time.Time) {
	if err := e.store.UpdateMessage(ctx, msg.ID, model.StatusSent, 1, "", &sentAt); err != nil {
		log.Printf("[Dispatch] failed to mark message %s sent: %v", msg.ID, err)
	}
}

func (e *Engine) markFailed(ctx context.Context, msg *model.QueuedMessage, attemptDelta int, errText string) {
	if len(errText) > maxErrorLength {
		errText = errText[:maxErrorLength]
	}
	if err := e.store.UpdateMessage(ctx, msg.ID, model.StatusFailed, attemptDelta, errText, nil); err != nil {
		log.Printf("[Dispatch] failed to mark message %s failed: %v", msg.ID, err)
	}
}

// reconcileCampaign recomputes one campaign's status from its message
// counts. The computation is idempotent, so re-running after a crash or
// overlapping invocation converges on the same answer.
func (e *Engine) reconcileCampaign(ctx context.Context, campaignID uuid.UUID) {
	pending, err := e.store.CountPendingForCampaign(ctx, campaignID)
	if err != nil {
		log.Printf("[Dispatch] campaign %s: pending count failed: %v", campaignID, err)
		return
	}

	status := model.CampaignCompleted
	if pending > 0 {
		status = model.CampaignSending
	}
	if err := e.store.SetCampaignStatus(ctx, campaignID, status); err != nil {
		log.Printf("[Dispatch] campaign %s: status update failed: %v", campaignID, err)
	}
}
