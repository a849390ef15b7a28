// RunsData is a paginated response payload for the runs history.
package dto

type RunsData struct {
	Runs        []RunInfo `json:"runs"`
	Objects     []string  `json:"objects"`
	Sources     []string  `json:"sources"`
	Length      int       `json:"length"`
	TotalPages  int       `json:"totalPages"`
	CurrentPage int       `json:"currentPage"`
	Limit       int       `json:"pageSize"`
}
