// gen-diagrams generates sample diagram outputs for README documentation.
// Run: go run ./cmd/gen-diagrams [definition.yaml]
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/stepwise/internal/actions"
	"github.com/rendis/stepwise/internal/definition"
	"github.com/rendis/stepwise/internal/diagram"
	"github.com/rendis/stepwise/internal/engine"
)

func main() {
	path := filepath.Join("examples", "evaluation-pipeline.yaml")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if err := run(context.Background(), path, filepath.Join("docs", "assets")); err != nil {
		fmt.Fprintf(os.Stderr, "gen-diagrams: %v\n", err)
		os.Exit(1)
	}
}

// run executes the definition once so the diagrams carry a real status overlay.
func run(ctx context.Context, path, outDir string) error {
	def, err := definition.Load(path)
	if err != nil {
		return err
	}

	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry, actions.BuiltinConfig{}); err != nil {
		return err
	}
	wf, err := definition.Compile(def, definition.CompileOptions{
		Actions: registry,
		Engine:  engine.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
	})
	if err != nil {
		return err
	}
	report, err := wf.Execute(ctx)
	if report == nil {
		return err
	}

	model, err := diagram.Build(def, report)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	ascii := diagram.RenderASCII(model)
	if err := os.WriteFile(filepath.Join(outDir, "diagram-ascii.txt"), []byte(ascii), 0o644); err != nil {
		return err
	}
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	mermaid := diagram.RenderMermaid(model)
	if err := os.WriteFile(filepath.Join(outDir, "diagram-mermaid.md"), []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644); err != nil {
		return err
	}
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	for _, format := range []diagram.ImageFormat{diagram.FormatPNG, diagram.FormatSVG} {
		img, err := diagram.RenderImage(ctx, model, format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s error: %v\n", format, err)
			continue
		}
		out := filepath.Join(outDir, "diagram-sample."+string(format))
		if err := os.WriteFile(out, img, 0o644); err != nil {
			return err
		}
		fmt.Printf("=== Image (%s) ===\nWritten: %s (%d bytes)\n", format, out, len(img))
	}
	return nil
}
