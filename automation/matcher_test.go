package automation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nexcrm/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// One connection: concurrent writers queue instead of tripping
	// sqlite's shared-cache locking.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.Migrate(db))
	return db
}

func TestConditionsMatch(t *testing.T) {
	tests := []struct {
		name       string
		conditions map[string]interface{}
		payload    map[string]interface{}
		want       bool
	}{
		{
			name:       "empty conditions match anything",
			conditions: map[string]interface{}{},
			payload:    map[string]interface{}{"pipeline_id": 1},
			want:       true,
		},
		{
			name:       "exact subset match",
			conditions: map[string]interface{}{"pipeline_id": 1, "to_stage_id": 4},
			payload:    map[string]interface{}{"pipeline_id": 1, "to_stage_id": 4, "lead_id": 99},
			want:       true,
		},
		{
			name:       "value mismatch",
			conditions: map[string]interface{}{"to_stage_id": 4},
			payload:    map[string]interface{}{"to_stage_id": 5},
			want:       false,
		},
		{
			name:       "missing key never matches",
			conditions: map[string]interface{}{"to_stage_id": 4},
			payload:    map[string]interface{}{"pipeline_id": 1},
			want:       false,
		},
		{
			name:       "json numbers compare equal to ints",
			conditions: map[string]interface{}{"pipeline_id": float64(1)},
			payload:    map[string]interface{}{"pipeline_id": uint(1)},
			want:       true,
		},
		{
			name:       "string values compare directly",
			conditions: map[string]interface{}{"channel": "telegram"},
			payload:    map[string]interface{}{"channel": "telegram"},
			want:       true,
		},
		{
			name:       "string mismatch",
			conditions: map[string]interface{}{"channel": "telegram"},
			payload:    map[string]interface{}{"channel": "email"},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConditionsMatch(tt.conditions, tt.payload))
		})
	}
}

func TestMatcherScopesToOrganizationAndTrigger(t *testing.T) {
	db := newTestDB(t)
	matcher := NewMatcher(db)

	rules := []models.AutomationRule{
		{
			OrganizationID:    1,
			Name:              "matching rule",
			TriggerType:       models.EventLeadStageChanged,
			TriggerConditions: map[string]interface{}{"to_stage_id": float64(4)},
			IsActive:          true,
		},
		{
			OrganizationID:    1,
			Name:              "inactive rule",
			TriggerType:       models.EventLeadStageChanged,
			TriggerConditions: map[string]interface{}{"to_stage_id": float64(4)},
			IsActive:          false,
		},
		{
			OrganizationID:    2,
			Name:              "other org",
			TriggerType:       models.EventLeadStageChanged,
			TriggerConditions: map[string]interface{}{"to_stage_id": float64(4)},
			IsActive:          true,
		},
		{
			OrganizationID:    1,
			Name:              "other trigger",
			TriggerType:       models.EventMessageReceived,
			IsActive:          true,
		},
		{
			OrganizationID:    1,
			Name:              "condition mismatch",
			TriggerType:       models.EventLeadStageChanged,
			TriggerConditions: map[string]interface{}{"to_stage_id": float64(9)},
			IsActive:          true,
		},
	}
	for i := range rules {
		require.NoError(t, db.Create(&rules[i]).Error)
	}

	event := models.NewEvent(models.EventLeadStageChanged, 1, map[string]interface{}{
		"lead_id":     float64(10),
		"pipeline_id": float64(1),
		"to_stage_id": float64(4),
	})

	matched, err := matcher.Match(event)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "matching rule", matched[0].Name)
}

func TestDeactivatedRuleStaysDeactivated(t *testing.T) {
	db := newTestDB(t)
	matcher := NewMatcher(db)

	rule := models.AutomationRule{
		OrganizationID:    1,
		Name:              "switched off",
		TriggerType:       models.EventLeadStageChanged,
		TriggerConditions: map[string]interface{}{"to_stage_id": float64(4)},
		IsActive:          false,
	}
	require.NoError(t, db.Create(&rule).Error)

	// The explicit false must survive the insert.
	var stored models.AutomationRule
	require.NoError(t, db.First(&stored, rule.ID).Error)
	assert.False(t, stored.IsActive)

	event := models.NewEvent(models.EventLeadStageChanged, 1, map[string]interface{}{
		"lead_id":     float64(10),
		"to_stage_id": float64(4),
	})
	matched, err := matcher.Match(event)
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestMatcherNoMatchIsNotAnError(t *testing.T) {
	db := newTestDB(t)
	matcher := NewMatcher(db)

	event := models.NewEvent(models.EventLeadStageChanged, 1, map[string]interface{}{"lead_id": float64(1)})
	matched, err := matcher.Match(event)
	require.NoError(t, err)
	assert.Empty(t, matched)
}
