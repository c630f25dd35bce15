package automation

import (
	"context"

	"gorm.io/gorm"

	"nexcrm/models"
)

// HistoryLedger is the append-only write path for stage transitions. Its
// public contract has no update and no delete: readers reconstruct
// timelines by ordering on (entity, created_at), and every automated
// mutation elsewhere must leave a row here with a correlation id chaining
// back to its cause.
type HistoryLedger struct {
	DB *gorm.DB
}

func NewHistoryLedger(db *gorm.DB) *HistoryLedger {
	return &HistoryLedger{DB: db}
}

// Append writes one entry. It fails only for infrastructure reasons.
func (l *HistoryLedger) Append(ctx context.Context, entry *models.StageHistoryEntry) error {
	return l.DB.WithContext(ctx).Create(entry).Error
}
