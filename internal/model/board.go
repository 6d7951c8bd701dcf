package model

// ColumnValue is one column cell of a remote board item.
type ColumnValue struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// RemoteItem is a point-in-time snapshot of a board item. It is fetched on
// demand and never cached.
type RemoteItem struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	BoardID      string        `json:"board_id,omitempty"`
	ColumnValues []ColumnValue `json:"column_values"`
}

// Column returns the column with the given id, if present.
func (it *RemoteItem) Column(id string) (ColumnValue, bool) {
	for _, cv := range it.ColumnValues {
		if cv.ID == id {
			return cv, true
		}
	}
	return ColumnValue{}, false
}

// CalculationResult is the outcome of one recalculation attempt.
type CalculationResult struct {
	ItemID      string  `json:"item_id"`
	InputValue  float64 `json:"input_value"`
	Factor      float64 `json:"factor"`
	ResultValue float64 `json:"result_value"`
	Success     bool    `json:"success"`
	Error       string  `json:"error,omitempty"`
}
