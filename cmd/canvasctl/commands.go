package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/inamate/planboard/internal/config"
	"github.com/inamate/planboard/internal/db"
	"github.com/inamate/planboard/internal/document"
	"github.com/inamate/planboard/internal/engine"
	"github.com/inamate/planboard/internal/geometry"
	"github.com/inamate/planboard/internal/grid"
	"github.com/inamate/planboard/internal/interaction"
	"github.com/inamate/planboard/internal/viewport"
)

func setupLogger(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func buildValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <board.json>",
		Short: "Check that a board file loads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			b, err := document.ParseBoard(data)
			if err != nil {
				return err
			}

			counts := make(map[document.ElementType]int)
			for _, e := range b.Elements {
				counts[e.Type]++
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ok: version %d, %d elements\n", b.Version, len(b.Elements))
			for _, t := range []document.ElementType{
				document.ElementTypeShape, document.ElementTypeText, document.ElementTypeSticky,
				document.ElementTypeImage, document.ElementTypeFrame, document.ElementTypeArrow,
				document.ElementTypeSmart, document.ElementTypeGroup, document.ElementTypeFile,
			} {
				if counts[t] > 0 {
					fmt.Fprintf(out, "  %-7s %d\n", t, counts[t])
				}
			}
			return nil
		},
	}
}

func buildGridCmd() *cobra.Command {
	var (
		width, height int
		zoom, dpr     float64
		panX, panY    float64
		gridType      string
		size          float64
		output        string
	)

	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Render the background grid to a PNG",
		Example: `  canvasctl grid --type dots --zoom 1.5 -o dots.png
  canvasctl grid --type hex --size 40 -o - > hex.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := grid.ParseType(gridType)
			if err != nil {
				return err
			}
			settings := grid.DefaultSettings()
			settings.Type = t
			settings.Size = size

			r := grid.NewRenderer(settings, slog.Default())
			cam := viewport.Camera{Pan: geometry.Point{X: panX, Y: panY}, Zoom: zoom}
			img, _ := r.Render(cam, geometry.Size{Width: float64(width), Height: float64(height)}, dpr)
			if img == nil {
				return fmt.Errorf("nothing rendered")
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := grid.EncodePNG(w, img); err != nil {
				return err
			}
			slog.Debug("grid rendered", "stats", r.Stats())
			return nil
		},
	}

	cmd.Flags().IntVar(&width, "width", 800, "Container width in CSS pixels")
	cmd.Flags().IntVar(&height, "height", 600, "Container height in CSS pixels")
	cmd.Flags().Float64Var(&zoom, "zoom", 1, "Camera zoom")
	cmd.Flags().Float64Var(&dpr, "dpr", 1, "Device pixel ratio")
	cmd.Flags().Float64Var(&panX, "pan-x", 0, "Camera pan X")
	cmd.Flags().Float64Var(&panY, "pan-y", 0, "Camera pan Y")
	cmd.Flags().StringVar(&gridType, "type", string(grid.TypeLines), "Grid type (lines, dots, isometric, hex)")
	cmd.Flags().Float64Var(&size, "size", grid.DefaultSize, "World units between minor lines")
	cmd.Flags().StringVarP(&output, "output", "o", "grid.png", "Output file, or - for stdout")
	return cmd
}

// benchResult summarizes a drag benchmark.
type benchResult struct {
	Frames   int
	Total    time.Duration
	Slowest  time.Duration
	Rendered int
}

func (r benchResult) PerFrame() time.Duration {
	if r.Frames == 0 {
		return 0
	}
	return r.Total / time.Duration(r.Frames)
}

// runDragBench lays out n elements, selects half of them and drags the
// selection by (5,5) world units per frame.
func runDragBench(ctx context.Context, opts engine.Options, n, frames int) (benchResult, error) {
	e := engine.NewEngine(opts)
	e.SetContainer(1280, 800, 1)

	elements := make([]document.CanvasElement, n)
	selected := make([]string, 0, n/2)
	for i := range elements {
		id := fmt.Sprintf("el_%03d", i)
		elements[i] = document.CanvasElement{
			ID:       id,
			Type:     document.ElementTypeShape,
			Position: geometry.Point{X: float64(i%10) * 120, Y: float64(i/10) * 80},
			Size:     geometry.Size{Width: 100, Height: 60},
			Visible:  true,
		}
		if i%2 == 0 {
			selected = append(selected, id)
		}
	}
	e.Store().Initialize(elements)
	if len(selected) == 0 {
		return benchResult{}, fmt.Errorf("need at least one element")
	}
	e.Store().Select(selected, false)

	start := elements[0].Center()
	ev := func(p geometry.Point) interaction.PointerEvent {
		return interaction.PointerEvent{PointerID: 1, Button: interaction.ButtonLeft, Screen: p}
	}
	if !e.PointerDown(ev(start)) {
		return benchResult{}, fmt.Errorf("drag did not start")
	}

	var res benchResult
	for f := 1; f <= frames; f++ {
		at := geometry.Point{X: start.X + float64(f)*5, Y: start.Y + float64(f)*5}
		t0 := time.Now()
		e.PointerMove(ev(at))
		out := e.Tick(ctx)
		d := time.Since(t0)

		res.Frames++
		res.Total += d
		res.Rendered += len(out)
		if d > res.Slowest {
			res.Slowest = d
		}
	}
	e.PointerUp(ev(geometry.Point{X: start.X + float64(frames)*5, Y: start.Y + float64(frames)*5}))

	got, _ := e.Store().Get(selected[0])
	want := geometry.Point{X: elements[0].Position.X + float64(frames)*5, Y: elements[0].Position.Y + float64(frames)*5}
	if got.Position != want {
		return res, fmt.Errorf("selection ended at %v, want %v", got.Position, want)
	}
	return res, nil
}

func buildBenchCmd() *cobra.Command {
	var n, frames int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time a multi-element drag through the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadEngine()
			if err != nil {
				return err
			}
			opts, err := engine.OptionsFromConfig(*cfg)
			if err != nil {
				return err
			}
			res, err := runDragBench(cmd.Context(), opts, n, frames)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d elements, %d frames: %v/frame (slowest %v), %d bytes of draw commands\n",
				n, res.Frames, res.PerFrame(), res.Slowest, res.Rendered)
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "elements", 100, "Number of elements on the board")
	cmd.Flags().IntVar(&frames, "frames", 120, "Number of drag frames")
	return cmd
}

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations (DATABASE_URL)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, id := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", id)
			}
			return nil
		},
	}
}
