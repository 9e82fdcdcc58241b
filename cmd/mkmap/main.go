// Command mkmap renders the survival pool likelihood map to a PNG.
package main

import (
	"flag"
	"fmt"
	"log"
	"path"

	"github.com/amsl/laserloc/internal/fsutil"
	"github.com/amsl/laserloc/internal/localiser/mapstore"
	"github.com/amsl/laserloc/internal/localiser/monitor"
	"github.com/amsl/laserloc/internal/localiser/scan"
	"github.com/amsl/laserloc/internal/version"
)

var (
	out          = flag.String("out", "pool.png", "Output PNG path")
	width        = flag.Int("width", mapstore.PoolWidth, "Map width in cells")
	height       = flag.Int("height", mapstore.PoolHeight, "Map height in cells")
	ksize        = flag.Int("ksize", mapstore.PoolKSize, "Gaussian kernel size (odd, 1 disables the blur)")
	preview      = flag.String("preview", "", "Also write a heat map preview PNG here")
	printVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *printVersion {
		fmt.Println(version.String("mkmap"))
		return
	}

	fsys := fsutil.OSFileSystem{}
	m, err := writeMap(fsys, *out, *width, *height, *ksize)
	if err != nil {
		log.Fatalf("failed to write map: %v", err)
	}
	log.Printf("wrote %dx%d map to %s", m.Width(), m.Height(), *out)

	if *preview != "" {
		sp := monitor.NewSnapshotPlotter(m, fsys, path.Dir(*preview), 0)
		if err := sp.WriteFile(*preview, scan.Scan{}, nil); err != nil {
			log.Fatalf("failed to write preview: %v", err)
		}
		log.Printf("wrote preview to %s", *preview)
	}
}

// writeMap renders the pool outline into a width×height map and writes it as
// a grayscale PNG to name.
func writeMap(fsys fsutil.FileSystem, name string, width, height, ksize int) (*mapstore.LikelihoodMap, error) {
	m, err := mapstore.BuildPolygonMap(width, height, mapstore.SurvivalPool(), mapstore.PoolOffset, ksize)
	if err != nil {
		return nil, err
	}
	if err := fsys.MkdirAll(path.Dir(name), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := fsys.Create(name)
	if err != nil {
		return nil, err
	}
	if err := m.WritePNG(f); err != nil {
		f.Close()
		return nil, err
	}
	return m, f.Close()
}
