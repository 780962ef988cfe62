package dto

// OptimizeRouteRequest names the picking work to order. Either a task id
// (the task's floor and items are resolved from it) or an explicit floor
// with item result ids.
type OptimizeRouteRequest struct {
	TaskID        string   `json:"taskId"`
	FloorID       string   `json:"floorId"`
	ItemResultIDs []string `json:"itemResultIds"`
}
