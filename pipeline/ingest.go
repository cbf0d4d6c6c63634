// Package pipeline runs one ETL pass over a telemetry CSV: it resolves each
// row's MAC to a model, aggregates the dashboard and buffers the history.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"battery_dashboard_etl/aggregator"
	"battery_dashboard_etl/history"
	"battery_dashboard_etl/logger"
	"battery_dashboard_etl/metrics"
	"battery_dashboard_etl/resolver"
)

// Input column layout, 0-indexed
const (
	MinColumns = 15

	colTimestamp   = 0
	colMac         = 1
	colRAMLoad     = 3
	colBattery     = 6
	colTemperature = 7
	colSpeed       = 9
	colConsumption = 10
)

// Result summarizes one run
type Result struct {
	Key       string
	Lines     int
	Accepted  int
	Short     int
	Unmapped  int
	Malformed int
	Models    int
	Dashboard string
	History   string
}

// Ingest is the state of a single run. Its resolver snapshot, aggregator
// and history buffer are discarded with it.
type Ingest struct {
	resolver *resolver.Resolver
	agg      *aggregator.Aggregator
	hist     *history.Writer
	metrics  *metrics.Recorder
}

// NewIngest creates the state for one run
func NewIngest(res *resolver.Resolver, m *metrics.Recorder) *Ingest {
	return &Ingest{
		resolver: res,
		agg:      aggregator.New(),
		hist:     history.NewWriter(),
		metrics:  m,
	}
}

// splitRow splits on commas. Trailing empty columns are dropped before the
// column count is checked.
func splitRow(line string) []string {
	cols := strings.Split(line, ",")
	for len(cols) > 0 && cols[len(cols)-1] == "" {
		cols = cols[:len(cols)-1]
	}
	return cols
}

// Run consumes r to the end. Row faults are counted and skipped; the
// returned error is fatal for the run and no artifact must be written.
func (in *Ingest) Run(ctx context.Context, r io.Reader) (*Result, error) {
	res := &Result{}

	in.resolver.Load(ctx)

	reader := bufio.NewReader(r)

	header := true
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, fmt.Errorf("failed to read input: %w", readErr)
		}
		if line == "" && readErr == io.EOF {
			break
		}

		if header {
			header = false
		} else {
			res.Lines++
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			if err := in.row(ctx, line, res); err != nil {
				return nil, err
			}
		}

		if readErr == io.EOF {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := in.agg.Finalize()
	res.Models = len(rows)
	res.Dashboard = aggregator.Render(rows)
	res.History = in.hist.Render()
	return res, nil
}

func (in *Ingest) row(ctx context.Context, line string, res *Result) error {
	cols := splitRow(line)
	if len(cols) < MinColumns {
		res.Short++
		in.metrics.IncRow(metrics.RowShort)
		return nil
	}

	mac := strings.TrimSpace(cols[colMac])
	if mac == "" {
		res.Unmapped++
		in.metrics.IncRow(metrics.RowUnmapped)
		return nil
	}

	binding, err := in.resolver.Resolve(ctx, mac)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("failed to resolve mac %s: %w", mac, err)
		}
		// the store failed for this row only; the run keeps going
		logger.Errorf("Could not resolve mac %s, row dropped: %v\n", mac, err)
		res.Unmapped++
		in.metrics.IncRow(metrics.RowUnmapped)
		return nil
	}
	if binding == nil {
		res.Unmapped++
		in.metrics.IncRow(metrics.RowUnmapped)
		return nil
	}

	health, err1 := parseNumber(cols[colBattery])
	charge, err2 := parseNumber(cols[colRAMLoad])
	temperature, err3 := parseNumber(cols[colTemperature])
	if err1 != nil || err2 != nil || err3 != nil {
		res.Malformed++
		in.metrics.IncRow(metrics.RowMalformed)
		logger.Warnf("Malformed line: %s\n", line)
		return nil
	}

	in.agg.Record(binding.Name, health, charge, temperature)
	in.hist.Append(history.Entry{
		Mac:            mac,
		Model:          binding.Name,
		Timestamp:      strings.TrimSpace(cols[colTimestamp]),
		Speed:          strings.TrimSpace(cols[colSpeed]),
		Consumption:    strings.TrimSpace(cols[colConsumption]),
		RawTemperature: strings.TrimSpace(cols[colTemperature]),
	})
	res.Accepted++
	in.metrics.IncRow(metrics.RowAccepted)
	return nil
}

func parseNumber(field string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(field), 64)
}
