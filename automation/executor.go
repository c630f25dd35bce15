package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"nexcrm/models"
	"nexcrm/utils"
)

// actionTimeout bounds a single handler call. A timeout is a failure, not
// an indefinite suspension.
const actionTimeout = 30 * time.Second

// Executor runs the ordered actions of a matched rule inside one
// claim-guarded unit of work. Once a claim is won it is permanent: a failed
// chain is surfaced for the operational retry path, never re-claimed here,
// because broker redelivery is the only retry mechanism and a second ad hoc
// loop would race it.
type Executor struct {
	DB       *gorm.DB
	Matcher  *Matcher
	Claims   *ClaimStore
	Registry *Registry
	Logger   *logrus.Logger
}

func NewExecutor(db *gorm.DB, registry *Registry, logger *logrus.Logger) *Executor {
	return &Executor{
		DB:       db,
		Matcher:  NewMatcher(db),
		Claims:   NewClaimStore(db),
		Registry: registry,
		Logger:   logger,
	}
}

// ProcessEvent matches an event against the organization's rules and
// executes each match. Rules are independent: they run concurrently and
// must not depend on each other's effects within the same event. A nil
// return means the event can be acknowledged.
func (ex *Executor) ProcessEvent(ctx context.Context, event models.EventEnvelope) error {
	rules, err := ex.Matcher.Match(event)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		ex.Logger.WithFields(logrus.Fields{
			"event_id":       event.ID,
			"event_type":     event.Type,
			"correlation_id": event.Correlation(),
		}).Debug("no matching rules")
		return nil
	}

	// Matched rules are independent: one rule's failure must not cancel a
	// sibling or hide its effects, so there is no shared cancellation here.
	// Claim-consuming chain failures are collected and surfaced only after
	// every rule has run; a store or transport error takes precedence so
	// the event stays unacknowledged and is redelivered.
	var (
		g  errgroup.Group
		mu sync.Mutex

		chainFailure error
	)
	for _, rule := range rules {
		rule := rule
		g.Go(func() error {
			err := ex.ExecuteRule(ctx, event, rule)
			var actionErr *ActionError
			if errors.As(err, &actionErr) {
				mu.Lock()
				if chainFailure == nil {
					chainFailure = err
				}
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return chainFailure
}

// ExecuteRule claims the (rule, entity) cause and, on success, runs the
// rule's actions in array order. AlreadyClaimed short-circuits silently:
// it is the expected outcome of at-least-once delivery.
func (ex *Executor) ExecuteRule(ctx context.Context, event models.EventEnvelope, rule models.AutomationRule) error {
	entityType, entityID, ok := entityRef(event)
	if !ok {
		ex.Logger.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"rule_id":    rule.ID,
		}).Warn("event carries no entity reference, skipping rule")
		return nil
	}

	breachDate := ""
	if rule.Recurring {
		breachDate = utils.DayKey(time.Now(), ex.orgLocation(ctx, rule.OrganizationID))
	}

	claimed, execution, err := ex.Claims.Claim(ctx, ClaimRequest{
		RuleID:         rule.ID,
		OrganizationID: rule.OrganizationID,
		EntityType:     entityType,
		EntityID:       entityID,
		BreachDate:     breachDate,
		TriggerEventID: event.ID,
		CorrelationID:  event.Correlation(),
	})
	if err != nil {
		return err
	}
	if !claimed {
		ex.Logger.WithFields(logrus.Fields{
			"rule_id":        rule.ID,
			"entity_type":    entityType,
			"entity_id":      entityID,
			"breach_date":    breachDate,
			"correlation_id": event.Correlation(),
		}).Debug("duplicate claim, dropping")
		return nil
	}

	ac := ActionContext{
		Event:      event,
		Rule:       rule,
		Execution:  execution,
		EntityType: entityType,
		EntityID:   entityID,
	}

	for _, action := range rule.Actions {
		handler, ok := ex.Registry.Get(action.Type)
		if !ok {
			return ex.fail(event, rule, ac, action.Type, ErrUnknownAction)
		}

		ac.Action = action
		actionCtx, cancel := context.WithTimeout(ctx, actionTimeout)
		result, err := handler.Execute(actionCtx, ac)
		cancel()
		if err != nil {
			// First failure aborts the rest of the chain. The claim row
			// stays: it means "this cause was accepted", not "succeeded".
			return ex.fail(event, rule, ac, action.Type, err)
		}

		if result != nil && result.DealID != nil {
			if err := ex.Claims.AttachDeal(ctx, execution.ID, *result.DealID); err != nil {
				ex.Logger.WithError(err).WithField("execution_id", execution.ID).
					Warn("failed to attach deal to execution")
			}
		}
	}

	ex.Logger.WithFields(logrus.Fields{
		"rule_id":        rule.ID,
		"entity_type":    entityType,
		"entity_id":      entityID,
		"correlation_id": event.Correlation(),
		"execution_id":   execution.ID,
	}).Info("rule executed")
	return nil
}

func (ex *Executor) fail(event models.EventEnvelope, rule models.AutomationRule, ac ActionContext, actionType string, err error) error {
	actionErr := &ActionError{
		RuleID:        rule.ID,
		EntityType:    ac.EntityType,
		EntityID:      ac.EntityID,
		ActionType:    actionType,
		TriggerEvent:  event.ID,
		CorrelationID: event.Correlation(),
		Err:           err,
	}
	ex.Logger.WithError(err).WithFields(logrus.Fields{
		"rule_id":        rule.ID,
		"action_type":    actionType,
		"entity_type":    ac.EntityType,
		"entity_id":      ac.EntityID,
		"correlation_id": event.Correlation(),
	}).Error("action failed, aborting chain")
	sentry.CaptureException(actionErr)
	return actionErr
}

// orgLocation resolves the organization timezone for day-key computation.
func (ex *Executor) orgLocation(ctx context.Context, orgID uint) *time.Location {
	var org models.Organization
	if err := ex.DB.WithContext(ctx).First(&org, orgID).Error; err != nil {
		return time.UTC
	}
	return org.Location()
}

// entityRef extracts the entity a claim is keyed on from the event payload.
func entityRef(event models.EventEnvelope) (string, uint, bool) {
	for _, ref := range []struct {
		key        string
		entityType string
	}{
		{"lead_id", models.EntityLead},
		{"deal_id", models.EntityDeal},
		{"conversation_id", models.EntityConversation},
		{"contact_id", models.EntityContact},
	} {
		if id := event.PayloadUint(ref.key); id != 0 {
			return ref.entityType, id, true
		}
	}
	return "", 0, false
}
