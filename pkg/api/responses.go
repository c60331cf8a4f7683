package api

import (
	"time"

	"dns-warden/pkg/storage"
)

// TokenResponse is returned by a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// PageMeta carries pagination details alongside list payloads.
type PageMeta struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// DomainLogResponse is one domain log row.
type DomainLogResponse struct {
	ID        int64  `json:"id"`
	Domain    string `json:"domain"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"` // ISO 8601
}

// DomainLogsResponse is the paginated log listing.
type DomainLogsResponse struct {
	Logs []DomainLogResponse `json:"logs"`
	Meta PageMeta            `json:"meta"`
}

// ListEntryResponse is one domain list entry.
type ListEntryResponse struct {
	ID        int64  `json:"id"`
	Domain    string `json:"domain"`
	ListType  string `json:"list_type"`
	Source    string `json:"source"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// ListEntriesResponse is the paginated domain listing.
type ListEntriesResponse struct {
	Domains []ListEntryResponse `json:"domains"`
	Meta    PageMeta            `json:"meta"`
}

// ListStatsResponse aggregates entry counts per list and source.
type ListStatsResponse struct {
	Stats []ListStatResponse `json:"stats"`
}

// ListStatResponse is one (list_type, source) bucket.
type ListStatResponse struct {
	ListType string `json:"list_type"`
	Source   string `json:"source"`
	Count    int64  `json:"count"`
}

// SystemResponse reports host resource usage.
type SystemResponse struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	DiskPercent   float64 `json:"disk_percent"`
	Uptime        string  `json:"uptime"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// convertDomainLog converts storage.DomainLog to DomainLogResponse
func convertDomainLog(l *storage.DomainLog) DomainLogResponse {
	return DomainLogResponse{
		ID:        l.ID,
		Domain:    l.Domain,
		Status:    string(l.Status),
		Timestamp: l.Timestamp.Format(time.RFC3339),
	}
}

// convertListEntry converts storage.ListEntry to ListEntryResponse
func convertListEntry(e *storage.ListEntry) ListEntryResponse {
	resp := ListEntryResponse{
		ID:        e.ID,
		Domain:    e.Domain,
		ListType:  string(e.ListType),
		Source:    string(e.Source),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
	if e.ExpiresAt != nil {
		resp.ExpiresAt = e.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}
