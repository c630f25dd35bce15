package worker

import (
	"context"
	"log"
	"time"

	"nexcrm/automation"
	"nexcrm/models"

	"gorm.io/gorm"
)

// SLAWorker periodically scans for leads that have sat in a stage past a
// rule's threshold and fires the rule's actions at most once per entity
// per organization-local calendar day. The sweep itself carries no
// correctness weight: the day-keyed claim does. Running the sweep twice,
// or from two replicas, or across a midnight boundary mid-sweep, cannot
// double-fire.
type SLAWorker struct {
	DB       *gorm.DB
	Executor *automation.Executor
	Logger   *log.Logger
	Interval time.Duration
}

func NewSLAWorker(db *gorm.DB, executor *automation.Executor, logger *log.Logger, interval time.Duration) *SLAWorker {
	return &SLAWorker{
		DB:       db,
		Executor: executor,
		Logger:   logger,
		Interval: interval,
	}
}

func (sw *SLAWorker) Start(ctx context.Context) {
	sw.Logger.Println("SLA worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("SLA worker shutting down...")
			return
		case <-ticker.C:
			sw.RunSweep(ctx)
		}
	}
}

// RunSweep evaluates every active recurring SLA rule once.
func (sw *SLAWorker) RunSweep(ctx context.Context) {
	var rules []models.AutomationRule
	err := sw.DB.WithContext(ctx).
		Where("trigger_type = ? AND is_active = ? AND recurring = ?", models.EventSLABreach, true, true).
		Find(&rules).Error
	if err != nil {
		sw.Logger.Printf("Error fetching SLA rules: %v", err)
		return
	}

	for _, rule := range rules {
		if err := sw.processRule(ctx, rule); err != nil {
			sw.Logger.Printf("Error processing SLA rule %d: %v", rule.ID, err)
		}
	}
}

// processRule finds the leads in the rule's scope that have breached the
// threshold and synthesizes one breach pseudo-event per lead. The pseudo-
// event is not published to the broker; it exists to give the executor the
// same (event, rule) shape the event path has.
func (sw *SLAWorker) processRule(ctx context.Context, rule models.AutomationRule) error {
	maxAge := ruleMaxAge(rule)
	if maxAge <= 0 {
		sw.Logger.Printf("SLA rule %d has no max_age_hours, skipping", rule.ID)
		return nil
	}

	cutoff := time.Now().UTC().Add(-maxAge)

	query := sw.DB.WithContext(ctx).
		Where("organization_id = ? AND stage_entered_at <= ?", rule.OrganizationID, cutoff)
	if pipelineID := conditionUint(rule.TriggerConditions, "pipeline_id"); pipelineID != 0 {
		query = query.Where("pipeline_id = ?", pipelineID)
	}
	if stageID := conditionUint(rule.TriggerConditions, "stage_id"); stageID != 0 {
		query = query.Where("stage_id = ?", stageID)
	}

	var leads []models.Lead
	if err := query.Find(&leads).Error; err != nil {
		return err
	}

	for _, lead := range leads {
		event := models.NewEvent(models.EventSLABreach, rule.OrganizationID, map[string]interface{}{
			"lead_id":     lead.ID,
			"pipeline_id": lead.PipelineID,
			"stage_id":    lead.StageID,
		})
		if err := sw.Executor.ExecuteRule(ctx, event, rule); err != nil {
			sw.Logger.Printf("SLA breach actions failed for lead %d: %v", lead.ID, err)
		}
	}
	return nil
}

// ruleMaxAge reads the breach threshold from the rule's conditions.
func ruleMaxAge(rule models.AutomationRule) time.Duration {
	hours := conditionUint(rule.TriggerConditions, "max_age_hours")
	return time.Duration(hours) * time.Hour
}

func conditionUint(conditions map[string]interface{}, key string) uint {
	switch v := conditions[key].(type) {
	case float64:
		return uint(v)
	case int:
		return uint(v)
	case uint:
		return v
	}
	return 0
}
