package dto

// ── 选课台账 DTO ──

// SwapRequest 换课请求：释放一个模块并同时选择另一个
type SwapRequest struct {
	ReleaseModuleID string `json:"release_module_id" binding:"required,uuid"`
	SelectModuleID  string `json:"select_module_id"  binding:"required,uuid"`
}

// SelectionResponse 持有的一条选课记录
type SelectionResponse struct {
	SelectionID string `json:"selection_id"`
	ModuleID    string `json:"module_id"`
	ModuleName  string `json:"module_name"`
	WeekNumber  int    `json:"week_number"`
	Visibility  string `json:"visibility"`
	SelectedAt  string `json:"selected_at"`
	IsActive    bool   `json:"is_active"`
	PDFUpdated  bool   `json:"pdf_updated"`
}
