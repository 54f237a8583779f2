package types

// TechnicianWorkload summarises the reports held by one technician.
type TechnicianWorkload struct {
	TechnicianID int    `json:"technician_id"`
	FullName     string `json:"full_name"`
	Open         int    `json:"open"`
	Approved     int    `json:"approved"`
}

// ScheduleCounts summarises supply schedules.
type ScheduleCounts struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Interrupted int `json:"interrupted"`
}

// Analytics is the dashboard summary returned by the analytics endpoint.
type Analytics struct {
	ReportsByStatus        map[ReportStatus]int `json:"reports_by_status"`
	TotalReports           int                  `json:"total_reports"`
	AverageResolutionHours float64              `json:"average_resolution_hours"`
	Technicians            []TechnicianWorkload `json:"technicians"`
	Schedules              ScheduleCounts       `json:"schedules"`
}
