package automation

import (
	"gorm.io/gorm"

	"nexcrm/models"
)

// Matcher selects the active rules an incoming event should fire. Matching
// is pure: it reads rules and compares payload fields, nothing else.
type Matcher struct {
	DB *gorm.DB
}

func NewMatcher(db *gorm.DB) *Matcher {
	return &Matcher{DB: db}
}

// ActiveRules fetches a fresh snapshot of the active rules for one
// organization and trigger type. The snapshot is re-read per evaluation
// batch so concurrent rule edits can't leave a worker matching against
// stale state.
func (m *Matcher) ActiveRules(orgID uint, triggerType string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := m.DB.
		Where("organization_id = ? AND trigger_type = ? AND is_active = ?", orgID, triggerType, true).
		Order("id").
		Find(&rules).Error
	return rules, err
}

// Match returns the rules whose trigger conditions subset-match the event
// payload. No match is a normal outcome, not an error.
func (m *Matcher) Match(event models.EventEnvelope) ([]models.AutomationRule, error) {
	candidates, err := m.ActiveRules(event.OrganizationID, event.Type)
	if err != nil {
		return nil, err
	}

	var matched []models.AutomationRule
	for _, rule := range candidates {
		if ConditionsMatch(rule.TriggerConditions, event.Payload) {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

// ConditionsMatch reports whether every condition key equals the
// corresponding value in the payload. Extra payload fields are ignored.
// A missing key never matches, including conditions that expect nil.
func ConditionsMatch(conditions, payload map[string]interface{}) bool {
	for key, want := range conditions {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual compares two loosely-typed values. Conditions and payloads
// both travel through JSON, which turns every number into float64, but
// in-process callers hand us ints, so numbers are normalized before
// comparing.
func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
