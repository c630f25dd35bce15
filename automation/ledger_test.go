package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexcrm/models"
	"nexcrm/utils"
)

func TestLedgerAppendOrdersTimeline(t *testing.T) {
	db := newTestDB(t)
	ledger := NewHistoryLedger(db)
	ctx := context.Background()

	correlation := "corr-1"
	entries := []models.StageHistoryEntry{
		{OrganizationID: 1, EntityType: models.EntityLead, EntityID: 7, PipelineID: 1, ToStageID: 1, Source: models.SourceManual},
		{OrganizationID: 1, EntityType: models.EntityLead, EntityID: 7, PipelineID: 1, FromStageID: utils.Pointer(uint(1)), ToStageID: 2, Source: models.SourceAutomation, CorrelationID: &correlation},
		{OrganizationID: 1, EntityType: models.EntityLead, EntityID: 8, PipelineID: 1, ToStageID: 1, Source: models.SourceSystem},
	}
	for i := range entries {
		require.NoError(t, ledger.Append(ctx, &entries[i]))
		time.Sleep(time.Millisecond)
	}

	// Readers reconstruct a timeline by ordering on (entity, created_at).
	var timeline []models.StageHistoryEntry
	require.NoError(t, db.
		Where("entity_type = ? AND entity_id = ?", models.EntityLead, 7).
		Order("created_at").
		Find(&timeline).Error)
	require.Len(t, timeline, 2)
	assert.EqualValues(t, 1, timeline[0].ToStageID)
	assert.EqualValues(t, 2, timeline[1].ToStageID)
	assert.Equal(t, models.SourceAutomation, timeline[1].Source)
	require.NotNil(t, timeline[1].CorrelationID)
	assert.Equal(t, correlation, *timeline[1].CorrelationID)
}
