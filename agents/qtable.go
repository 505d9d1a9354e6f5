package agents

import (
	"encoding/json"
	"math"
)

// QTable maps state hashes to action hashes to values
type QTable struct {
	table map[string]map[string]float64
}

func NewQTable() *QTable {
	return &QTable{
		table: make(map[string]map[string]float64),
	}
}

// Get returns the value of the action, def if it was never set
func (q *QTable) Get(state, action string, def float64) float64 {
	if _, ok := q.table[state]; !ok {
		return def
	}
	if val, ok := q.table[state][action]; ok {
		return val
	}
	return def
}

func (q *QTable) Set(state, action string, val float64) {
	if _, ok := q.table[state]; !ok {
		q.table[state] = make(map[string]float64)
	}
	q.table[state][action] = val
}

// MaxAmong the given actions, unknown actions count as def. Ties go to the first action.
func (q *QTable) MaxAmong(state string, actions []string, def float64) (string, float64) {
	maxAction := ""
	maxVal := math.Inf(-1)
	for _, a := range actions {
		val := q.Get(state, a, def)
		if val > maxVal {
			maxAction = a
			maxVal = val
		}
	}
	if maxAction == "" {
		return "", def
	}
	return maxAction, maxVal
}

// Size is the number of (state, action) entries
func (q *QTable) Size() int {
	size := 0
	for _, actions := range q.table {
		size += len(actions)
	}
	return size
}

func (q *QTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.table)
}

func (q *QTable) UnmarshalJSON(data []byte) error {
	table := make(map[string]map[string]float64)
	if err := json.Unmarshal(data, &table); err != nil {
		return err
	}
	q.table = table
	return nil
}
