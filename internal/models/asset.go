package models

import "time"

// Asset is the business entity the admission layer protects. Validation and
// reporting around assets live outside this service; the API only does plain
// tenant-scoped CRUD.
type Asset struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Name        string            `json:"name"`
	Category    string            `json:"category,omitempty"`
	Status      string            `json:"status,omitempty"`
	AssignedTo  string            `json:"assigned_to,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
