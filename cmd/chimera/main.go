// Command chimera hosts the CHIMERA-VPU engine for demos and inspection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kier73/CHIMERA-VPU/internal/config"
	"github.com/Kier73/CHIMERA-VPU/internal/infrastructure/sensors"
	"github.com/Kier73/CHIMERA-VPU/internal/shared"
	"github.com/Kier73/CHIMERA-VPU/pkg/chimera"
)

var (
	configPath string
	verbose    bool
)

func main() {
	// .env can carry CHIMERA_SENSOR_URL for the device layer.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "chimera",
		Short: "CHIMERA-VPU adaptive execution engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(demoCmd(), beliefsCmd(), sensorsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildEngine() (*chimera.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if url := os.Getenv("CHIMERA_SENSOR_URL"); url != "" {
		cfg.Sensors.Endpoint = url
	}

	logger := zap.NewNop()
	if verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
	}
	return chimera.New(chimera.WithConfig(cfg), chimera.WithLogger(logger))
}

func demoCmd() *cobra.Command {
	var rounds int
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run representative tasks through the full cognitive cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := buildEngine()
			if err != nil {
				return err
			}
			ctx := context.Background()

			for round := 0; round < rounds; round++ {
				for _, build := range []func() *shared.Task{smoothConvTask, spikyConvTask, gemmTask, saxpyTask} {
					task := build()
					report, err := engine.Execute(ctx, task)
					if err != nil {
						return err
					}
					printReport(report)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 3, "demo rounds to run")
	return cmd
}

func beliefsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "beliefs",
		Short: "Dump the engine's seeded belief tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := buildEngine()
			if err != nil {
				return err
			}
			engine.DumpBeliefs(os.Stdout)
			return nil
		},
	}
}

func sensorsCmd() *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "sensors",
		Short: "Probe one telemetry device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if url := os.Getenv("CHIMERA_SENSOR_URL"); url != "" {
				cfg.Sensors.Endpoint = url
			}
			oracle := sensors.NewHTTPOracle(cfg.Sensors.Endpoint, time.Duration(cfg.Sensors.TimeoutMS)*time.Millisecond)
			status, err := oracle.ReadDevice(context.Background(), device)
			if err != nil {
				return fmt.Errorf("device %s unavailable: %w", device, err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
	cmd.Flags().StringVar(&device, "device", sensors.DevicePower, "device id to probe")
	return cmd
}

func printReport(r *chimera.ExecutionReport) {
	marker := ""
	if r.Explored {
		marker = "  [explored]"
	}
	fmt.Printf("%-12s plan=%-18s predicted=%10.2f observed=%10.0f latency=%s%s\n",
		r.Kind, r.ChosenPlan, r.PredictedFlux, r.Record.ObservedHolisticFlux,
		time.Duration(r.Record.LatencyNS), marker)
}

func smoothConvTask() *shared.Task {
	n := 64
	signal := make([]float64, n)
	for i := range signal {
		signal[i] = math.Sin(2 * math.Pi * float64(i) / float64(n))
	}
	return &shared.Task{
		Kind: shared.TaskConvolution,
		InA:  shared.FromFloat64s(signal),
		InB:  shared.FromFloat64s([]float64{0.25, 0.5, 0.25}),
		Out:  shared.NewFloat64Buffer(n),
	}
}

func spikyConvTask() *shared.Task {
	n := 64
	signal := make([]float64, n)
	for i := range signal {
		if i%2 == 0 {
			signal[i] = 900
		} else {
			signal[i] = -900
		}
	}
	return &shared.Task{
		Kind: shared.TaskConvolution,
		InA:  shared.FromFloat64s(signal),
		InB:  shared.FromFloat64s([]float64{0.25, 0.5, 0.25}),
		Out:  shared.NewFloat64Buffer(n),
	}
}

func gemmTask() *shared.Task {
	const m, n, k = 8, 8, 8
	a := make([]float32, m*k)
	b := make([]float32, k*n)
	for i := range a {
		if i%3 == 0 {
			a[i] = float32(i % 7)
		}
	}
	for i := range b {
		b[i] = 1
	}
	return &shared.Task{
		Kind: shared.TaskGEMM,
		InA:  shared.FromFloat32s(a),
		InB:  shared.FromFloat32s(b),
		Out:  shared.NewFloat32Buffer(m * n),
		Dims: &shared.GEMMDims{M: m, N: n, K: k},
	}
}

func saxpyTask() *shared.Task {
	n := 32
	x := make([]float32, n)
	y := make([]float32, n)
	for i := range x {
		if i%4 == 0 {
			x[i] = float32(i)
		}
		y[i] = 1
	}
	alpha := 2.0
	return &shared.Task{
		Kind:  shared.TaskSAXPY,
		InA:   shared.FromFloat32s(x),
		Out:   shared.FromFloat32s(y),
		Alpha: &alpha,
	}
}
