// Command irinspect prints the layers, prompt metadata and raster inventory of an
// image refiner archive.
//
// Usage: irinspect [-rasters] <archive.imagerefiner>
package main

import (
	"archive/zip"
	"flag"
	"fmt"
	"os"
	"strings"

	"image-refiner/internal/layer"
	"image-refiner/internal/mask"
	"image-refiner/internal/project"
	"image-refiner/internal/prompt"

	"github.com/fatih/color"
)

func main() {
	listRasters := flag.Bool("rasters", false, "List every archive entry")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Println("Usage: irinspect [-rasters] <archive.imagerefiner>")
		os.Exit(1)
	}
	path := flag.Arg(0)

	snap, doc, err := project.ImportFile(path)
	if err != nil {
		color.Red("Failed to read %s: %v", path, err)
		os.Exit(1)
	}

	header := color.New(color.FgCyan, color.Bold)
	header.Printf("%s\n", path)
	fmt.Printf("  version:  %d\n", doc.Version)
	fmt.Printf("  created:  %s\n", doc.Created.Format("2006-01-02 15:04:05"))
	fmt.Printf("  size:     %dx%d\n", doc.Size.Width, doc.Size.Height)
	fmt.Printf("  next id:  %d\n", doc.NextID)
	fmt.Printf("  base:     %s\n", doc.Prompt.BaseImagePath.Filename)
	if mask.IsEmpty(snap.Mask) {
		fmt.Printf("  mask:     empty\n")
	} else {
		r, _ := mask.SelectionBounds(mask.ToTransport(snap.Mask, false))
		fmt.Printf("  mask:     %dx%d at %d,%d\n", r.Width, r.Height, r.X, r.Y)
	}

	header.Printf("\n%d layer(s)\n", len(snap.Layers))
	for _, l := range snap.Layers {
		printLayer(l)
	}

	if *listRasters {
		if err := printEntries(path); err != nil {
			color.Red("Failed to list entries: %v", err)
			os.Exit(1)
		}
	}
}

func printLayer(l *layer.Layer) {
	state := color.GreenString("visible")
	if !l.Visible {
		state = color.YellowString("hidden")
	}
	if !l.Generated() {
		fmt.Printf("  #%-3d drawn      %s\n", l.ID, state)
		return
	}

	fmt.Printf("  #%-3d generated  %s  %s\n", l.ID, state, l.Prompt.ComponentName)
	for i, c := range l.Candidates {
		mark := " "
		if i == l.Selected {
			mark = "*"
		}
		fmt.Printf("       %s %s\n", mark, c.Ref.Filename)
	}
	if r, ok := mask.SelectionBounds(l.Mask); ok {
		fmt.Printf("       region %dx%d at %d,%d\n", r.Width, r.Height, r.X, r.Y)
	}
	for _, name := range l.Prompt.Names() {
		v, _ := l.Prompt.Get(name)
		fmt.Printf("       %-16s %s\n", name, describe(v))
	}
	if len(l.Context) > 0 {
		ids := make([]string, 0, len(l.Context))
		for _, p := range l.Prompt.ImagePaths {
			if l.Context[p.ID] != nil {
				ids = append(ids, fmt.Sprint(p.ID))
			}
		}
		fmt.Printf("       context inputs %s\n", strings.Join(ids, ", "))
	}
}

func describe(v prompt.Value) string {
	switch v.Kind {
	case prompt.KindInt:
		return fmt.Sprintf("INT %d [%d..%d]", v.Int.Value, v.Int.Min, v.Int.Max)
	case prompt.KindFloat:
		return fmt.Sprintf("FLOAT %g [%g..%g]", v.Float.Value, v.Float.Min, v.Float.Max)
	case prompt.KindBoolean:
		return fmt.Sprintf("BOOLEAN %t", v.Bool)
	case prompt.KindBasicPipe, prompt.KindModel, prompt.KindVAE:
		return fmt.Sprintf("%s %s", v.Kind, v.Checkpoint)
	default:
		return fmt.Sprintf("%s %q", v.Kind, v.Text)
	}
}

func printEntries(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	color.New(color.FgCyan, color.Bold).Printf("\n%d entries\n", len(zr.File))
	for _, f := range zr.File {
		fmt.Printf("  %-32s %10d\n", f.Name, f.UncompressedSize64)
	}
	return nil
}
