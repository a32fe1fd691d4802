package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"freightdash/internal/core/domain"
)

// Table is a generic tabular rendering of a record collection.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// BuildTable renders records as a table whose columns are the keys of the
// first record, in wire order. Later records are rendered against the same
// columns; missing keys give empty cells.
func BuildTable[T any](records []T) (Table, error) {
	table := Table{Columns: []string{}, Rows: [][]string{}}
	if len(records) == 0 {
		return table, nil
	}

	for i, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return Table{}, fmt.Errorf("encode record %d: %w", i, err)
		}
		keys, cells, err := orderedFields(raw)
		if err != nil {
			return Table{}, fmt.Errorf("record %d: %w", i, err)
		}
		if i == 0 {
			table.Columns = keys
		}
		row := make([]string, len(table.Columns))
		for j, col := range table.Columns {
			row[j] = cells[col]
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// orderedFields walks one JSON object and returns its keys in order plus
// each value rendered as a cell.
func orderedFields(raw []byte) ([]string, map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("record is not an object")
	}

	var keys []string
	cells := make(map[string]string)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		cells[key] = cellText(value)
	}
	return keys, cells, nil
}

func cellText(v json.RawMessage) string {
	trimmed := bytes.TrimSpace(v)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// Marker is one map marker.
type Marker struct {
	ID     string  `json:"id"`
	Kind   string  `json:"kind"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Label  string  `json:"label"`
	Status string  `json:"status"`
	Detail string  `json:"detail"`
}

const (
	MarkerFreighter = "freighter"
	MarkerShipment  = "shipment"
)

// BuildMarkers renders freighters and shipments as map markers, freighters
// first.
func BuildMarkers(freighters []domain.Freighter, shipments []domain.Shipment) []Marker {
	markers := make([]Marker, 0, len(freighters)+len(shipments))
	for _, f := range freighters {
		label := f.Name
		if label == "" {
			label = string(f.FreighterID)
		}
		markers = append(markers, Marker{
			ID:     string(f.FreighterID),
			Kind:   MarkerFreighter,
			Lat:    f.OriginLat,
			Lng:    f.OriginLng,
			Label:  label,
			Status: f.Status,
			Detail: fmt.Sprintf("Load: %s / %s kg", formatKg(f.AvailableKg), formatKg(f.MaxLoadKg)),
		})
	}
	for _, s := range shipments {
		markers = append(markers, Marker{
			ID:     string(s.RequestID),
			Kind:   MarkerShipment,
			Lat:    s.OriginLat,
			Lng:    s.OriginLng,
			Label:  string(s.RequestID),
			Status: s.Status,
			Detail: fmt.Sprintf("Weight: %s kg", formatKg(s.WeightKg)),
		})
	}
	return markers
}

func formatKg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ActiveUserRow is the projection shown in the active users table.
type ActiveUserRow struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// ProjectActiveUsers drops everything but name and role.
func ProjectActiveUsers(users []domain.ActiveUser) []ActiveUserRow {
	rows := make([]ActiveUserRow, 0, len(users))
	for _, u := range users {
		rows = append(rows, ActiveUserRow{Name: u.Name, Role: u.Role})
	}
	return rows
}

// TableFor renders the named view collection as a table.
func TableFor(vm domain.ViewModel, name string) (Table, error) {
	switch name {
	case string(domain.ResourceActiveUsers), CollectionActiveUsers:
		return BuildTable(ProjectActiveUsers(vm.ActiveUsers))
	case string(domain.ResourceSchedules), CollectionFreighters:
		return BuildTable(vm.Freighters)
	case string(domain.ResourceShipments):
		return BuildTable(vm.Shipments)
	case string(domain.ResourceMatches):
		return BuildTable(vm.Matches)
	case string(domain.ResourceOrders):
		return BuildTable(vm.Orders)
	}
	return Table{}, fmt.Errorf("%w: %s", domain.ErrUnknownResource, name)
}

// CollectionFor returns the named view collection.
func CollectionFor(vm domain.ViewModel, name string) (any, error) {
	switch name {
	case string(domain.ResourceActiveUsers), CollectionActiveUsers:
		return ProjectActiveUsers(vm.ActiveUsers), nil
	case string(domain.ResourceSchedules), CollectionFreighters:
		return vm.Freighters, nil
	case string(domain.ResourceShipments):
		return vm.Shipments, nil
	case string(domain.ResourceMatches):
		return vm.Matches, nil
	case string(domain.ResourceOrders):
		return vm.Orders, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownResource, name)
}
