package domain

import "time"

// CapKeyMonthlyTokens is the entitlement holding the monthly token ceiling.
const CapKeyMonthlyTokens = "tokens.monthly_cap"

// Entitlement is one plan grant for a workspace. Feature keys use Allowed;
// cap keys use LimitValue.
type Entitlement struct {
	WorkspaceID string    `gorm:"column:workspace_id;primaryKey"`
	FeatureKey  string    `gorm:"column:feature_key;primaryKey"`
	Allowed     bool      `gorm:"column:allowed;not null;default:false"`
	LimitValue  *int64    `gorm:"column:limit_value"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

func (Entitlement) TableName() string { return "workspace_entitlements" }
