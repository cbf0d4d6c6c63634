// Package aggregator keeps running per-model battery health statistics and
// renders them as the dashboard artifact.
package aggregator

import (
	"fmt"
	"sort"
	"strings"
)

// Alert thresholds for a single reading
const (
	AlertMinCharge      = 20.0
	AlertMaxTemperature = 45.0
	AlertMinHealth      = 70.0
)

// Status values of a dashboard row
const (
	StatusNormal   = "NORMAL"
	StatusCritical = "CRITICAL"
)

// DashboardHeader is the first line of the dashboard artifact
const DashboardHeader = "Modelo,Media_Saude,Media_Carga,Media_Temperatura,Qtd_Veiculos,Qtd_Alertas,Status_Geral"

// ModelStats holds running sums for one model
type ModelStats struct {
	SumHealth      float64
	SumCharge      float64
	SumTemperature float64
	ReadingCount   int
	AlertCount     int
}

// Row is one finalized dashboard line
type Row struct {
	Model          string
	AvgHealth      float64
	AvgCharge      float64
	AvgTemperature float64
	Count          int
	AlertCount     int
	Status         string
}

// Aggregator is owned by a single run
type Aggregator struct {
	stats map[string]*ModelStats
}

// New creates an empty aggregator
func New() *Aggregator {
	return &Aggregator{stats: make(map[string]*ModelStats)}
}

// IsAlert reports whether a single reading breaches any threshold
func IsAlert(health, charge, temperature float64) bool {
	return charge < AlertMinCharge || temperature > AlertMaxTemperature || health < AlertMinHealth
}

// Record adds one reading for model
func (a *Aggregator) Record(model string, health, charge, temperature float64) {
	s, ok := a.stats[model]
	if !ok {
		s = &ModelStats{}
		a.stats[model] = s
	}
	s.SumHealth += health
	s.SumCharge += charge
	s.SumTemperature += temperature
	s.ReadingCount++
	if IsAlert(health, charge, temperature) {
		s.AlertCount++
	}
}

// Stats returns a copy of the running statistics for model
func (a *Aggregator) Stats(model string) (ModelStats, bool) {
	s, ok := a.stats[model]
	if !ok {
		return ModelStats{}, false
	}
	return *s, true
}

// Len returns the number of models with readings
func (a *Aggregator) Len() int {
	return len(a.stats)
}

// Finalize returns one row per model, sorted by model name
func (a *Aggregator) Finalize() []Row {
	names := make([]string, 0, len(a.stats))
	for name, s := range a.stats {
		if s.ReadingCount > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	rows := make([]Row, 0, len(names))
	for _, name := range names {
		s := a.stats[name]
		n := float64(s.ReadingCount)
		row := Row{
			Model:          name,
			AvgHealth:      s.SumHealth / n,
			AvgCharge:      s.SumCharge / n,
			AvgTemperature: s.SumTemperature / n,
			Count:          s.ReadingCount,
			AlertCount:     s.AlertCount,
		}
		row.Status = status(row.AvgTemperature, row.AvgCharge)
		rows = append(rows, row)
	}
	return rows
}

func status(avgTemperature, avgCharge float64) string {
	if avgTemperature > AlertMaxTemperature || avgCharge < AlertMinCharge {
		return StatusCritical
	}
	return StatusNormal
}

// Render formats rows as the dashboard CSV, header included
func Render(rows []Row) string {
	var b strings.Builder
	b.WriteString(DashboardHeader)
	b.WriteByte('\n')
	for _, r := range rows {
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%d,%d,%s\n",
			r.Model, r.AvgHealth, r.AvgCharge, r.AvgTemperature, r.Count, r.AlertCount, r.Status)
	}
	return b.String()
}
