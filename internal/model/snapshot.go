package model

// TenantSnapshot is the administrative view of one tenant's queue
type TenantSnapshot struct {
	TenantID     int64         `json:"tenant_id"`
	EntryCount   int           `json:"entry_count"`
	PlayerCount  int           `json:"player_count"`
	Entries      []QueueEntry  `json:"entries"`
	Sessions     []SessionView `json:"sessions"`
	Unattached   int           `json:"unattached"`
	RoleDemand   map[Role]int  `json:"role_demand"`
	GroupEntries int           `json:"group_entries"`
}
