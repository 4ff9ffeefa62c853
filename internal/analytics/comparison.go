package analytics

// pairedRow is one group with its metrics in both periods. A side is nil
// when the group was not observed in that period.
type pairedRow struct {
	key      string
	columns  map[string]string
	current  *metrics
	previous *metrics
}

func (r *pairedRow) value(src Source) *float64 {
	return valueOf(r.current, src)
}

func (r *pairedRow) previousValue(src Source) *float64 {
	return valueOf(r.previous, src)
}

func valueOf(m *metrics, src Source) *float64 {
	if m == nil {
		return nil
	}
	v := m.value(src)
	return &v
}

// pairByKey merges the two periods on the dimension key tuple. Current rows
// keep their observed order; groups seen only in the previous period follow.
// previous may be nil when not comparing.
func pairByKey(current, previous *aggregate) []*pairedRow {
	paired := make([]*pairedRow, 0, len(current.rows))
	for _, row := range current.rows {
		m := row.metrics
		pr := &pairedRow{key: row.key, columns: row.columns, current: &m}
		if previous != nil {
			if prev := previous.row(row.key); prev != nil {
				pm := prev.metrics
				pr.previous = &pm
			}
		}
		paired = append(paired, pr)
	}

	if previous == nil {
		return paired
	}
	for _, row := range previous.rows {
		if current.row(row.key) != nil {
			continue
		}
		pm := row.metrics
		paired = append(paired, &pairedRow{key: row.key, columns: row.columns, previous: &pm})
	}
	return paired
}

// percentageChange is the change from previous to current in percent; nil
// when either side is absent or previous is zero.
func percentageChange(current, previous *float64) *float64 {
	if current == nil || previous == nil || *previous == 0 {
		return nil
	}
	change := ((*current - *previous) / *previous) * 100
	return &change
}

// numberOrNil unwraps v so a missing value encodes as JSON null.
func numberOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
