package push

// Subscription is one browser push endpoint registered by a user's device.
// A user may hold several, one per browser or device.
type Subscription struct {
	SubscriptionID   string `gorm:"column:subscription_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_push_user"`
	Endpoint         string `gorm:"column:endpoint;type:text;not null"`
	P256dh           string `gorm:"column:p256dh;type:text;not null"`
	Auth             string `gorm:"column:auth;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Subscription) TableName() string {
	return "push_subscriptions"
}
