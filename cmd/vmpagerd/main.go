// Command vmpagerd is a demonstration driver for the page manager and
// buffer cache: it wires every package in this module together over a
// real on-disk swap image and filesystem image, runs the spec's S1-S5
// scenarios against them, and prints a summary of what happened.
//
// Grounded on biscuit/src/kernel/chentry.go: a thin package main that only
// does argument parsing (usage, chkELF, parseAddr) and wiring into main,
// with all real logic living in library packages.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	flag "github.com/spf13/pflag"

	"vmpager/blockdev"
	"vmpager/cache"
	"vmpager/frame"
	"vmpager/mmu"
	"vmpager/page"
	"vmpager/swap"
	"vmpager/vfile"
	"vmpager/vmctx"
)

const pageSize = 4096

// config is populated from flags first, then any matching VMPAGERD_*
// environment variable overrides the flag value (spec's CLI ambient
// stack addition).
type config struct {
	Frames     int    `envconfig:"frames"`
	SwapSlots  int    `envconfig:"swap_slots"`
	ImageDir   string `envconfig:"image_dir"`
	KeepImages bool   `envconfig:"keep_images"`
}

func parseConfig() config {
	cfg := config{}
	flag.IntVar(&cfg.Frames, "frames", 4, "number of physical frames to simulate")
	flag.IntVar(&cfg.SwapSlots, "swap-slots", 8, "number of swap slots to provision")
	flag.StringVar(&cfg.ImageDir, "image-dir", "", "directory for the swap/fs image files (default: temp dir)")
	flag.BoolVar(&cfg.KeepImages, "keep-images", false, "do not delete image files on exit")
	flag.Parse()

	if err := envconfig.Process("vmpagerd", &cfg); err != nil {
		log.Fatalf("vmpagerd: reading environment overrides: %v", err)
	}
	return cfg
}

func main() {
	cfg := parseConfig()

	dir := cfg.ImageDir
	if dir == "" {
		d, err := os.MkdirTemp("", "vmpagerd-")
		if err != nil {
			log.Fatalf("vmpagerd: %v", err)
		}
		dir = d
		if !cfg.KeepImages {
			defer os.RemoveAll(dir)
		}
	}

	swapDev, err := blockdev.OpenFile(filepath.Join(dir, "swap.img"), cfg.SwapSlots*(pageSize/blockdev.SectorSize))
	if err != nil {
		log.Fatalf("vmpagerd: opening swap image: %v", err)
	}
	defer swapDev.Close()

	fsDev, err := blockdev.OpenFile(filepath.Join(dir, "fs.img"), 4096)
	if err != nil {
		log.Fatalf("vmpagerd: opening filesystem image: %v", err)
	}
	defer fsDev.Close()

	m := mmu.NewSoftware()
	frames := frame.NewTable(cfg.Frames, pageSize)
	swapArea := swap.New(swapDev, pageSize)
	bufCache := cache.New(fsDev)
	ctx := vmctx.New(frames, swapArea, bufCache, m)

	fmt.Printf("vmpagerd: %d frames, %d swap slots, images in %s\n", cfg.Frames, cfg.SwapSlots, dir)

	for _, scenario := range scenarios {
		fmt.Printf("--- %s ---\n", scenario.name)
		if err := scenario.run(ctx, m); err != nil {
			log.Fatalf("vmpagerd: %s: %v", scenario.name, err)
		}
		fmt.Printf("%s: ok\n", scenario.name)
	}
}

type scenario struct {
	name string
	run  func(ctx *vmctx.Context, m *mmu.Software) error
}

var scenarios = []scenario{
	{"S1 fault-in zero page", scenarioZeroFill},
	{"S2 segment tail zero-fill", scenarioSegment},
	{"S3 eviction round-trip", scenarioEvictionRoundTrip},
	{"S4 read-only mapping discarded on evict", scenarioReadOnlyDiscard},
	{"S5 cache write-back on evict", scenarioCacheWriteBack},
}

func scenarioZeroFill(ctx *vmctx.Context, m *mmu.Software) error {
	tbl := page.NewTable(ctx)
	v := mmu.Addr(0x0804_0000)
	tbl.InstallAnonymous(v, true)
	if err := tbl.HandleFault(v + 17); err != nil {
		return err
	}
	if _, ok := m.Mapped(v); !ok {
		return fmt.Errorf("expected %#x to be mapped after fault", v)
	}
	return tbl.UninstallAll()
}

func scenarioSegment(ctx *vmctx.Context, m *mmu.Software) error {
	tbl := page.NewTable(ctx)
	contents := fill(5000, 'F')
	f := vfile.NewInMemory(contents)
	defer f.Close()

	v := mmu.Addr(0x0805_0000)
	tbl.InstallSegment(f, 0, 4096+904, 192, true, v)
	if err := tbl.HandleFault(v); err != nil {
		return err
	}
	if err := tbl.HandleFault(v + pageSize); err != nil {
		return err
	}
	return tbl.UninstallAll()
}

func scenarioEvictionRoundTrip(ctx *vmctx.Context, m *mmu.Software) error {
	// Install more anonymous pages than there are frames, so faulting
	// the last one forces the frame table to evict an earlier page via
	// second-chance regardless of how --frames was configured.
	tbl := page.NewTable(ctx)
	numAddrs := ctx.Frames.NumFrames() + 1
	addrs := make([]mmu.Addr, numAddrs)
	for i := range addrs {
		addrs[i] = mmu.Addr(0x1000 * (i + 1))
		tbl.InstallAnonymous(addrs[i], true)
	}
	for _, v := range addrs {
		if err := tbl.HandleFault(v); err != nil {
			return err
		}
		m.Touch(v, true)
	}
	// Re-fault the first page: it was evicted above, which exercises
	// the swap-restore path.
	if err := tbl.HandleFault(addrs[0]); err != nil {
		return err
	}
	return tbl.UninstallAll()
}

func scenarioReadOnlyDiscard(ctx *vmctx.Context, m *mmu.Software) error {
	tbl := page.NewTable(ctx)
	contents := fill(pageSize, 'Z')
	f := vfile.NewInMemory(contents)
	defer f.Close()

	v := mmu.Addr(0x4000)
	tbl.InstallFileMapping(f, false, v)
	if err := tbl.HandleFault(v); err != nil {
		return err
	}
	return tbl.UninstallAll()
}

func scenarioCacheWriteBack(ctx *vmctx.Context, m *mmu.Software) error {
	if ctx.Cache == nil {
		return fmt.Errorf("no buffer cache configured")
	}
	ctx.Cache.Write(7, fill(blockdev.SectorSize, 'X'))
	scratch := make([]byte, blockdev.SectorSize)
	for s := 100; s < 100+2*cache.Capacity; s++ {
		ctx.Cache.Read(blockdev.Sector(s), scratch)
	}
	ctx.Cache.Flush()
	return nil
}

func fill(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
