package board

import (
	"encoding/json"

	"github.com/sells-group/factor-relay/internal/model"
)

const columnValueQuery = `query ($itemId: [ID!], $columnId: [String!]) {
  items (ids: $itemId) {
    id
    column_values (ids: $columnId) { id text value type }
  }
}`

const changeColumnValueMutation = `mutation ($boardId: ID!, $itemId: ID!, $columnId: String!, $value: String) {
  change_simple_column_value (board_id: $boardId, item_id: $itemId, column_id: $columnId, value: $value) { id }
}`

const itemQuery = `query ($itemId: [ID!]) {
  items (ids: $itemId) {
    id
    name
    board { id }
    column_values { id text value type }
  }
}`

const boardItemsQuery = `query ($boardId: [ID!], $limit: Int!) {
  boards (ids: $boardId) {
    id
    items_page (limit: $limit) {
      cursor
      items { id name column_values { id text value type } }
    }
  }
}`

const nextItemsPageQuery = `query ($cursor: String!, $limit: Int!) {
  next_items_page (cursor: $cursor, limit: $limit) {
    cursor
    items { id name column_values { id text value type } }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// envelope is the outer response shape. Some failures come back as a
// top-level error_message instead of an errors array.
type envelope struct {
	Data         json.RawMessage `json:"data"`
	Errors       []graphQLError  `json:"errors"`
	ErrorCode    string          `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
	AccountID    int64           `json:"account_id"`
}

func (e *envelope) failures() []string {
	var msgs []string
	for _, ge := range e.Errors {
		msgs = append(msgs, ge.Message)
	}
	if e.ErrorMessage != "" {
		msg := e.ErrorMessage
		if e.ErrorCode != "" {
			msg = e.ErrorCode + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

type wireColumn struct {
	ID    string  `json:"id"`
	Text  *string `json:"text"`
	Value *string `json:"value"`
	Type  string  `json:"type"`
}

type wireItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Board *struct {
		ID string `json:"id"`
	} `json:"board"`
	ColumnValues []wireColumn `json:"column_values"`
}

type itemsData struct {
	Items []wireItem `json:"items"`
}

type changeColumnData struct {
	ChangeSimpleColumnValue *struct {
		ID string `json:"id"`
	} `json:"change_simple_column_value"`
}

type itemsPage struct {
	Cursor *string    `json:"cursor"`
	Items  []wireItem `json:"items"`
}

type boardsData struct {
	Boards []struct {
		ID        string    `json:"id"`
		ItemsPage itemsPage `json:"items_page"`
	} `json:"boards"`
}

type nextPageData struct {
	NextItemsPage itemsPage `json:"next_items_page"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (w wireItem) toModel(boardID string) model.RemoteItem {
	it := model.RemoteItem{
		ID:           w.ID,
		Name:         w.Name,
		BoardID:      boardID,
		ColumnValues: make([]model.ColumnValue, 0, len(w.ColumnValues)),
	}
	if w.Board != nil {
		it.BoardID = w.Board.ID
	}
	for _, cv := range w.ColumnValues {
		it.ColumnValues = append(it.ColumnValues, model.ColumnValue{
			ID:    cv.ID,
			Text:  deref(cv.Text),
			Value: deref(cv.Value),
			Type:  cv.Type,
		})
	}
	return it
}
