// Package generator writes synthetic telemetry CSV files in the layout the
// pipeline reads.
package generator

import (
	"bufio"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Header of generated files
const Header = "TIMESTAMP,MAC,CPU,RAM,DISCO,UPTIME,BATERIA,TEMP,PROCESSOS,velocidadeEstimada,consumoEnergia,LATITUDE,LONGITUDE,SINAL,FIRMWARE"

// Options controls the generated data
type Options struct {
	Files    int
	Devices  int
	Rows     int
	Interval time.Duration
	Start    time.Time
	// Seed fixes the random data; zero seeds from the clock
	Seed uint64
}

// Result describes one written file
type Result struct {
	Path string
	Rows int
	Err  error
}

// Reading is one synthetic telemetry sample
type Reading struct {
	Timestamp   time.Time
	Mac         string
	CPU         float64
	RAM         float64
	Disk        float64
	Uptime      int
	Battery     float64
	Temperature float64
	Processes   int
	Speed       float64
	Consumption float64
	Latitude    float64
	Longitude   float64
	Signal      int
}

// Generate writes opts.Files files into dir concurrently, one goroutine per file
func Generate(dir string, opts Options) ([]Result, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if opts.Files <= 0 {
		opts.Files = 1
	}
	if opts.Devices <= 0 {
		opts.Devices = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().UTC().Truncate(24 * time.Hour)
	}

	results := make([]Result, opts.Files)
	var wg sync.WaitGroup
	for i := 0; i < opts.Files; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("telemetry_%s_%02d.csv", opts.Start.Format("20060102"), i+1)
			path := filepath.Join(dir, name)
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(i)))
			readings := Readings(rng, opts)
			results[i] = Result{Path: path, Rows: len(readings), Err: writeCSV(path, readings)}
		}(i)
	}
	wg.Wait()

	return results, nil
}

// MacFor returns the MAC of the n-th synthetic device
func MacFor(n int) string {
	return fmt.Sprintf("02:00:00:%02X:%02X:%02X", (n>>16)&0xff, (n>>8)&0xff, n&0xff)
}

// Readings simulates opts.Rows samples per device
func Readings(rng *rand.Rand, opts Options) []Reading {
	readings := make([]Reading, 0, opts.Rows*opts.Devices)
	for i := 0; i < opts.Rows; i++ {
		ts := opts.Start.Add(time.Duration(i) * opts.Interval)
		hourAngle := float64(ts.Hour()) * math.Pi / 12

		for d := 0; d < opts.Devices; d++ {
			// each device drains a little faster than the previous one
			wear := float64(d) * 3
			temp := 32 + 10*math.Sin(hourAngle-math.Pi/2) + rng.Float64()*6 - 3 + wear/2

			readings = append(readings, Reading{
				Timestamp:   ts,
				Mac:         MacFor(d),
				CPU:         10 + rng.Float64()*80,
				RAM:         math.Max(0, 100-float64(i%100)-rng.Float64()*5),
				Disk:        40 + rng.Float64()*20,
				Uptime:      i * int(opts.Interval.Seconds()),
				Battery:     math.Max(40, 98-wear-rng.Float64()*4),
				Temperature: temp,
				Processes:   80 + rng.IntN(60),
				Speed:       rng.Float64() * 90,
				Consumption: 5 + rng.Float64()*20,
				Latitude:    -23.55 + rng.Float64()*0.1,
				Longitude:   -46.63 + rng.Float64()*0.1,
				Signal:      -90 + rng.IntN(50),
			})
		}
	}
	return readings
}

func writeCSV(path string, readings []Reading) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if _, err := w.WriteString(Header + "\n"); err != nil {
		return err
	}
	for _, r := range readings {
		_, err := fmt.Fprintf(w, "%s,%s,%.1f,%.1f,%.1f,%d,%.1f,%.1f,%d,%.1f,%.2f,%.5f,%.5f,%d,v1.4.2\n",
			r.Timestamp.Format("2006-01-02T15:04:05"), r.Mac, r.CPU, r.RAM, r.Disk, r.Uptime,
			r.Battery, r.Temperature, r.Processes, r.Speed, r.Consumption,
			r.Latitude, r.Longitude, r.Signal)
		if err != nil {
			return err
		}
	}
	return w.Flush()
}
