// Package main provides the headless entry point for the image refiner editor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"image-refiner/internal/app"
	"image-refiner/internal/backend"
	"image-refiner/internal/config"
	"image-refiner/internal/image"
	"image-refiner/internal/logger"
	"image-refiner/internal/project"
	"image-refiner/internal/prompt"
	"image-refiner/internal/replay"
	"image-refiner/internal/version"

	"github.com/fatih/color"
)

const appName = "image-refiner"

type options struct {
	image     string
	archive   string
	script    string
	component string
	count     int
	whole     bool
	out       string
	export    string
	remote    bool
	save      bool
}

func main() {
	var opts options
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.StringVar(&opts.image, "image", "", "Base image to open (PNG, JPEG or TIFF)")
	flag.StringVar(&opts.archive, "import", "", "Archive to restore instead of opening an image")
	flag.StringVar(&opts.script, "script", "", "JSON input script to replay")
	flag.StringVar(&opts.component, "component", "", "Component to generate with")
	flag.IntVar(&opts.count, "count", 0, "Candidates per generation (default from config)")
	flag.BoolVar(&opts.whole, "whole", false, "Regenerate the whole image when the mask is empty")
	flag.StringVar(&opts.out, "out", "", "Write the flattened result to this PNG")
	flag.StringVar(&opts.export, "export", "", "Write an archive to this path, or a directory for a timestamped name")
	flag.BoolVar(&opts.remote, "remote", false, "Have the host build and read archives")
	flag.BoolVar(&opts.save, "save", false, "Save the flattened result to the host clipspace")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String(appName))
		return
	}
	if opts.image == "" && opts.archive == "" {
		fmt.Println("Usage: image-refiner -image <path> | -import <archive> [-script s.json] [-component name] [-out result.png] [-export dir]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		color.Red("Invalid configuration: %v", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.LogFilePath, cfg.IsProduction())
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, opts); err != nil {
		log.Error("main", "run failed", map[string]interface{}{"error": err})
		color.Red("Failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger, opts options) error {
	client := backend.NewHTTPClient(cfg.Backend, log)
	s := app.NewSession(app.Options{
		Client:  client,
		Log:     log,
		Confirm: app.ConfirmFunc(func() bool { return opts.whole }),
		Editor:  cfg.Editor,
	})
	defer s.Close(context.Background())

	s.On(app.EventGenerationProgress, func(data interface{}) {
		p := data.(app.Progress)
		color.Cyan("  candidate %d/%d", p.Done, p.Total)
	})

	if err := open(ctx, s, opts); err != nil {
		return err
	}
	size := s.Base().Size()
	color.Green("Opened %dx%d base image", size.Width, size.Height)

	if opts.script != "" {
		sc, err := replay.Load(opts.script)
		if err != nil {
			return err
		}
		if err := sc.Run(ctx, s, time.Now()); err != nil {
			return err
		}
		color.Green("Replayed %d events", len(sc.Events))
	}

	if opts.component != "" {
		if err := s.SelectComponent(ctx, opts.component); err != nil {
			return err
		}
		if opts.count > 0 {
			s.SetCount(opts.count)
		}
		genCtx, cancel := context.WithTimeout(ctx, cfg.Backend.RequestTimeout)
		defer cancel()
		go func() {
			<-genCtx.Done()
			if s.Generating() {
				_ = s.Stop(context.Background())
			}
		}()

		color.Yellow("Generating %d candidate(s) with %s", s.Count(), opts.component)
		l, err := s.Regenerate(genCtx)
		if err != nil {
			return err
		}
		if l == nil {
			return errors.New("no component selected")
		}
		color.Green("Layer %d: %d candidate(s)", l.ID, len(l.Candidates))
	}

	if opts.out != "" {
		flat, err := s.Flatten()
		if err != nil {
			return err
		}
		if err := flat.Save(opts.out); err != nil {
			return err
		}
		color.Green("Wrote %s", opts.out)
	}

	if opts.save {
		ref, err := s.SaveToClipspace(ctx)
		if err != nil {
			return err
		}
		color.Green("Saved to %s/%s", ref.Subfolder, ref.Filename)
	}

	if opts.export != "" {
		path, err := export(ctx, s, opts)
		if err != nil {
			return err
		}
		color.Green("Exported %s", path)
	}
	return nil
}

func open(ctx context.Context, s *app.Session, opts options) error {
	if opts.archive == "" {
		base, err := image.Load(opts.image)
		if err != nil {
			return err
		}
		return s.Open(base, prompt.ImageRef{})
	}

	if opts.remote {
		data, err := os.ReadFile(opts.archive)
		if err != nil {
			return err
		}
		return s.ImportRemote(ctx, filepath.Base(opts.archive), data)
	}
	f, err := os.Open(opts.archive)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	return s.Import(f, st.Size())
}

// export writes the archive; a directory target gets the timestamped archive name.
func export(ctx context.Context, s *app.Session, opts options) (string, error) {
	path := opts.export
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, project.Filename(time.Now()))
	}

	if !opts.remote {
		snap, err := s.Snapshot()
		if err != nil {
			return "", err
		}
		return path, project.ExportFile(path, snap)
	}

	name, data, err := s.ExportRemote(ctx)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("host returned an empty archive")
	}
	if fi, err := os.Stat(opts.export); err == nil && fi.IsDir() {
		path = filepath.Join(opts.export, name)
	}
	return path, os.WriteFile(path, data, 0o644)
}
