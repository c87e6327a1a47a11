package models

// AllModels lists every persisted entity in dependency order for schema migration
func AllModels() []any {
	return []any{
		&ContactGroup{},
		&Contact{},
		&Conversation{},
		&Upload{},
		&TravelItinerary{},
		&Campaign{},
		&CampaignMessage{},
		&ChatMessage{},
		&WhatsAppMessage{},
		&AuditLog{},
	}
}
