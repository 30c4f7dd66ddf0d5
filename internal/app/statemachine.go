/**
 * @description
 * The subscription lifecycle state machine. The transition table is pure data:
 * each row carries tagged guard and effect variants rather than closures, so
 * the table stays serializable and testable on its own. Both the manual
 * endpoints and the automatic sweeps funnel through the same table.
 *
 * @notes
 * - An unmatched (from, to, action) triple and a failed guard produce the same
 *   refusal, naming the attempted pair; callers surface the user-facing reason.
 * - COMPLETED is terminal. EXPIRED is reached only through the external expiry
 *   hook on the service and never appears as a transition row.
 * - System-forced pauses (retry exhaustion, proactive insufficient-funds
 *   detection) bypass this table deliberately; they are data repairs, not
 *   business decisions.
 */

package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/rugue/forage-stores-backend-sub000/internal/domain"
)

// TransitionAction names a requested lifecycle change.
type TransitionAction string

const (
	ActionPause      TransitionAction = "PAUSE"
	ActionResume     TransitionAction = "RESUME"
	ActionCancel     TransitionAction = "CANCEL"
	ActionComplete   TransitionAction = "COMPLETE"
	ActionReactivate TransitionAction = "REACTIVATE"
)

// ErrTransitionNotAllowed is returned when a transition is refused, either
// because no rule matches or because the matched rule's guard failed.
var ErrTransitionNotAllowed = errors.New("transition conditions were not met")

// guardKind tags the precondition attached to a transition rule.
type guardKind int

const (
	guardNone guardKind = iota
	// guardAdminOrPaymentFailure: actor is an administrator, or the pause was
	// triggered by a payment failure (system actor).
	guardAdminOrPaymentFailure
	// guardAdminOrOwner: actor is an administrator or the subscription's own
	// owner.
	guardAdminOrOwner
	// guardAllDropsPaid: every drop in the schedule has been paid.
	guardAllDropsPaid
	// guardFundedWithUnpaidDrops: sufficient balance for the next drop and at
	// least one unpaid drop remaining.
	guardFundedWithUnpaidDrops
	// guardAdminWithUnpaidDrops: administrator only, and unpaid drops remain.
	guardAdminWithUnpaidDrops
)

// effectKind tags the side effect a rule runs after its guard passes and
// before the new state is persisted.
type effectKind int

const (
	effectNone effectKind = iota
	// effectStampCompletion marks the subscription completed and stamps the
	// end date.
	effectStampCompletion
	// effectClearPause drops any pause-until marker and realigns the next due
	// date with the earliest unpaid drop.
	effectClearPause
	// effectStampEnd stamps the end date without marking completion.
	effectStampEnd
)

type transitionRule struct {
	From   domain.SubscriptionStatus
	To     domain.SubscriptionStatus
	Action TransitionAction
	Guard  guardKind
	Effect effectKind
}

// transitionTable is the complete set of legal guarded transitions.
var transitionTable = []transitionRule{
	{From: domain.StatusActive, To: domain.StatusPaused, Action: ActionPause, Guard: guardAdminOrPaymentFailure, Effect: effectNone},
	{From: domain.StatusActive, To: domain.StatusCancelled, Action: ActionCancel, Guard: guardAdminOrOwner, Effect: effectStampEnd},
	{From: domain.StatusActive, To: domain.StatusCompleted, Action: ActionComplete, Guard: guardAllDropsPaid, Effect: effectStampCompletion},
	{From: domain.StatusPaused, To: domain.StatusActive, Action: ActionResume, Guard: guardFundedWithUnpaidDrops, Effect: effectClearPause},
	{From: domain.StatusPaused, To: domain.StatusCancelled, Action: ActionCancel, Guard: guardAdminOrOwner, Effect: effectStampEnd},
	{From: domain.StatusCancelled, To: domain.StatusActive, Action: ActionReactivate, Guard: guardAdminWithUnpaidDrops, Effect: effectClearPause},
}

// TransitionContext carries everything a guard may need to decide.
type TransitionContext struct {
	Actor domain.Actor
	// SpendableBalance is the actor's wallet balance, pre-fetched by the
	// caller for guards that need it.
	SpendableBalance int64
	// PaymentFailure marks a pause triggered by a failed payment rather than
	// an administrative action.
	PaymentFailure bool
}

func findTransitionRule(from, to domain.SubscriptionStatus, action TransitionAction) (transitionRule, bool) {
	for _, rule := range transitionTable {
		if rule.From == from && rule.To == to && rule.Action == action {
			return rule, true
		}
	}
	return transitionRule{}, false
}

func evaluateGuard(rule transitionRule, sub *domain.Subscription, tctx TransitionContext) bool {
	switch rule.Guard {
	case guardNone:
		return true
	case guardAdminOrPaymentFailure:
		return tctx.Actor.IsAdmin() || tctx.PaymentFailure
	case guardAdminOrOwner:
		return tctx.Actor.IsAdmin() || (tctx.Actor.Role == domain.RoleUser && tctx.Actor.UserID == sub.UserID)
	case guardAllDropsPaid:
		return sub.DropsPaid >= sub.TotalDrops
	case guardFundedWithUnpaidDrops:
		idx := sub.FirstUnpaidIndex()
		return idx != -1 && tctx.SpendableBalance >= sub.Drops[idx].Amount
	case guardAdminWithUnpaidDrops:
		return tctx.Actor.IsAdmin() && sub.UnpaidCount() > 0
	default:
		return false
	}
}

func applyEffect(rule transitionRule, sub *domain.Subscription, now time.Time) {
	switch rule.Effect {
	case effectStampCompletion:
		sub.IsCompleted = true
		end := now
		sub.EndDate = &end
		sub.NextDueDate = nil
	case effectClearPause:
		sub.PauseUntil = nil
		sub.RecomputeNextDueDate()
	case effectStampEnd:
		end := now
		sub.EndDate = &end
	}
}

// CanTransition reports whether a (from, to, action) triple has a rule whose
// guard passes in the given context. It never mutates the subscription.
func CanTransition(sub *domain.Subscription, to domain.SubscriptionStatus, action TransitionAction, tctx TransitionContext) bool {
	rule, ok := findTransitionRule(sub.Status, to, action)
	if !ok {
		return false
	}
	return evaluateGuard(rule, sub, tctx)
}

// ApplyTransition mutates the subscription to the target state, running the
// rule's effect after the guard passes. The caller persists the result.
func ApplyTransition(sub *domain.Subscription, to domain.SubscriptionStatus, action TransitionAction, tctx TransitionContext, now time.Time) error {
	rule, ok := findTransitionRule(sub.Status, to, action)
	if !ok {
		return fmt.Errorf("transition from %s to %s refused: %w", sub.Status, to, ErrTransitionNotAllowed)
	}
	if !evaluateGuard(rule, sub, tctx) {
		return fmt.Errorf("transition from %s to %s refused: %w", sub.Status, to, ErrTransitionNotAllowed)
	}
	applyEffect(rule, sub, now)
	sub.Status = to
	return nil
}

// actionTarget maps a requested action from the current state to its target
// state, used by the API layer where callers name actions, not states.
func actionTarget(from domain.SubscriptionStatus, action TransitionAction) (domain.SubscriptionStatus, bool) {
	for _, rule := range transitionTable {
		if rule.From == from && rule.Action == action {
			return rule.To, true
		}
	}
	return "", false
}
