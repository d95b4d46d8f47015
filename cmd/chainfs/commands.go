package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/marmos91/chainfs/internal/logger"
	"github.com/marmos91/chainfs/internal/throttle"
	"github.com/marmos91/chainfs/pkg/config"
	"github.com/marmos91/chainfs/pkg/file"
	"github.com/marmos91/chainfs/pkg/gc"
	"github.com/marmos91/chainfs/pkg/registry"
	"github.com/marmos91/chainfs/pkg/store/block"
	"github.com/marmos91/chainfs/pkg/store/block/image"
	"github.com/marmos91/chainfs/pkg/store/catalog"
)

// volumeFlags are the flags shared by every command that operates on a
// configured volume.
type volumeFlags struct {
	configPath string
	volume     string
	logLevel   string
}

func (vf *volumeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&vf.configPath, "config", "", "path to the configuration file")
	fs.StringVar(&vf.volume, "volume", "", "volume to operate on (defaults to the only configured one)")
	fs.StringVar(&vf.logLevel, "log-level", "", "log level override (DEBUG, INFO, WARN, ERROR)")
}

// openVolume loads the configuration, builds the registry, and picks the
// requested volume. The returned cleanup closes every opened store and must
// run even when the command fails afterwards.
func openVolume(ctx context.Context, vf volumeFlags) (*registry.Volume, func(), error) {
	cfg, err := config.Load(vf.configPath)
	if err != nil {
		return nil, nil, err
	}

	// Apply the log level before any store is opened so their setup lines
	// honor it.
	if vf.logLevel != "" {
		logger.SetLevel(vf.logLevel)
	} else {
		logger.SetLevel(cfg.Logging.Level)
	}

	reg, err := config.BuildRegistry(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := reg.CloseAll(); err != nil {
			logger.Warn("Failed to close volumes: %v", err)
		}
	}

	name := vf.volume
	if name == "" {
		names := reg.ListVolumes()
		if len(names) != 1 {
			cleanup()
			return nil, nil, fmt.Errorf("%d volumes configured, pick one with -volume", len(names))
		}
		name = names[0]
	}

	vol, err := reg.GetVolume(name)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return vol, cleanup, nil
}

// cmdFormat creates a new image file ready to serve as a volume.
func cmdFormat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("format", flag.ExitOnError)
	path := fs.String("image", "", "path of the image file to create (required)")
	blockSize := fs.Uint("block-size", image.DefaultBlockSize, "block size in bytes")
	blocksPerChunk := fs.Uint("blocks-per-chunk", image.DefaultBlocksPerChunk, "blocks in each chunk")
	chunkCount := fs.Uint("chunks", image.DefaultChunkCount, "chunk count (fixes the capacity)")
	fs.Parse(args)

	if *path == "" {
		fs.Usage()
		return errors.New("format: -image is required")
	}

	geo := image.Geometry{
		BlockSize:      uint32(*blockSize),
		BlocksPerChunk: uint32(*blocksPerChunk),
		ChunkCount:     uint32(*chunkCount),
	}

	d, err := image.Create(ctx, *path, geo)
	if err != nil {
		return fmt.Errorf("format %s: %w", *path, err)
	}
	if err := d.Close(); err != nil {
		return fmt.Errorf("format %s: %w", *path, err)
	}

	capacity := int64(*blockSize) * int64(*blocksPerChunk) * int64(*chunkCount)
	fmt.Printf("Formatted %s\n", *path)
	fmt.Printf("  block size:       %d bytes\n", *blockSize)
	fmt.Printf("  blocks per chunk: %d\n", *blocksPerChunk)
	fmt.Printf("  chunks:           %d\n", *chunkCount)
	fmt.Printf("  data capacity:    %d bytes\n", capacity)
	return nil
}

// cmdVolumes lists the configured volumes. It reads the configuration only
// and opens no stores.
func cmdVolumes(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("volumes", flag.ExitOnError)
	configPath := fs.String("config", "", "path to the configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	fmt.Printf("%-16s %-8s %-8s %s\n", "NAME", "DRIVER", "CATALOG", "ACCESS")
	for _, vol := range cfg.Volumes {
		access := "read-write"
		if vol.ReadOnly {
			access = "read-only"
		}
		fmt.Printf("%-16s %-8s %-8s %s\n", vol.Name, vol.Driver.Type, vol.Catalog.Type, access)
	}
	return nil
}

// cmdImport copies a local file or stdin into a volume under the given path,
// replacing any file already stored there.
func cmdImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	var vf volumeFlags
	vf.register(fs)
	from := fs.String("from", "", "local file to import (defaults to stdin)")
	rate := fs.Int64("throttle", 0, "copy rate limit in bytes per second (0 = unlimited)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("import: exactly one destination path required")
	}
	path, err := catalog.NormalizePath(fs.Arg(0))
	if err != nil {
		return err
	}

	vol, cleanup, err := openVolume(ctx, vf)
	if err != nil {
		return err
	}
	defer cleanup()

	if vol.ReadOnly {
		return fmt.Errorf("volume %q is read-only", vol.Name)
	}
	alloc, ok := vol.Driver.(block.Allocator)
	if !ok {
		return fmt.Errorf("volume %q cannot allocate chains", vol.Name)
	}
	writable, ok := vol.Catalog.(catalog.WritableCatalog)
	if !ok {
		return fmt.Errorf("catalog of volume %q is read-only", vol.Name)
	}

	var src io.Reader = os.Stdin
	srcName := "stdin"
	if *from != "" {
		f, err := os.Open(*from)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
		srcName = *from
	}
	src = throttle.New(*rate).Reader(ctx, src)

	// Resolve first so a replaced file's old chain can be freed once the
	// new one is published.
	old, err := vol.Catalog.Resolve(ctx, path)
	replacing := err == nil
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return err
	}

	logger.Info("Importing %s to %s on volume %q", srcName, path, vol.Name)

	start, size, err := block.WriteChain(ctx, alloc, src)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}

	if err := writable.Put(ctx, catalog.Entry{Path: path, Start: start, Size: size}); err != nil {
		// No catalog entry points at the new chain yet, so free it now.
		if ferr := alloc.FreeChain(context.WithoutCancel(ctx), start); ferr != nil {
			logger.Warn("Failed to free unpublished chain at %d: %v", start, ferr)
		}
		return fmt.Errorf("publish %s: %w", path, err)
	}

	if replacing {
		if err := alloc.FreeChain(ctx, old.Start); err != nil {
			logger.Warn("Failed to free replaced chain at %d: %v (the garbage collector will reclaim it)", old.Start, err)
		}
	}

	if syncer, ok := vol.Driver.(block.Syncer); ok {
		if err := syncer.Sync(ctx); err != nil {
			return fmt.Errorf("sync volume %q: %w", vol.Name, err)
		}
	}

	fmt.Printf("Imported %s (%d bytes)\n", path, size)
	return nil
}

// cmdCat streams a stored file to stdout.
func cmdCat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cat", flag.ExitOnError)
	var vf volumeFlags
	vf.register(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("cat: exactly one path required")
	}

	vol, cleanup, err := openVolume(ctx, vf)
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := vol.OpenFile(ctx, fs.Arg(0), file.ReadOnly)
	if err != nil {
		return err
	}

	_, err = io.Copy(os.Stdout, f.Reader(ctx))
	if cerr := f.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// cmdList prints the files under a prefix, one per line with sizes.
func cmdList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	var vf volumeFlags
	vf.register(fs)
	fs.Parse(args)

	prefix := "/"
	if fs.NArg() > 0 {
		prefix = fs.Arg(0)
	}

	vol, cleanup, err := openVolume(ctx, vf)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := vol.Catalog.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		fmt.Printf("%12d  %s\n", entry.Size, entry.Path)
	}
	return nil
}

// cmdStat prints the catalog entry and physical chain layout of one file.
func cmdStat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stat", flag.ExitOnError)
	var vf volumeFlags
	vf.register(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("stat: exactly one path required")
	}

	vol, cleanup, err := openVolume(ctx, vf)
	if err != nil {
		return err
	}
	defer cleanup()

	entry, err := vol.Catalog.Resolve(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	stats, err := block.ChainStats(ctx, vol.Driver, entry.Start, entry.Size)
	if err != nil {
		return fmt.Errorf("walk chain of %s: %w", entry.Path, err)
	}

	fmt.Printf("path:     %s\n", entry.Path)
	fmt.Printf("size:     %d bytes\n", entry.Size)
	if vol.Driver.IsEndOfChain(entry.Start) {
		fmt.Printf("chain:    empty\n")
	} else {
		fmt.Printf("chain:    starts at chunk %d\n", entry.Start)
	}
	fmt.Printf("chunks:   %d\n", stats.Chunks)
	fmt.Printf("blocks:   %d\n", stats.Blocks)
	fmt.Printf("capacity: %d bytes\n", stats.Capacity)
	if stats.Truncated {
		fmt.Printf("WARNING: the chain ends %d bytes short of the declared size\n", entry.Size-stats.Capacity)
	}
	return nil
}

// cmdPatch overwrites part of a stored file with bytes from stdin. The file
// keeps its size; a patch cannot run past the end.
func cmdPatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	var vf volumeFlags
	vf.register(fs)
	offset := fs.Int64("at", 0, "offset to start writing at")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("patch: exactly one path required")
	}

	vol, cleanup, err := openVolume(ctx, vf)
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := vol.OpenFile(ctx, fs.Arg(0), file.ReadWrite)
	if err != nil {
		return err
	}

	if err := f.Seek(ctx, *offset); err != nil {
		f.Close(ctx)
		return err
	}

	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := os.Stdin.Read(buf)
		if n > 0 {
			wn, werr := f.Write(ctx, buf[:n])
			written += int64(wn)
			if werr != nil {
				f.Close(ctx)
				if errors.Is(werr, file.ErrInvalidOffset) {
					return fmt.Errorf("patch %s: write past the end after %d bytes", f.Name(), written)
				}
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close(ctx)
			return rerr
		}
	}

	if err := f.Close(ctx); err != nil {
		return err
	}
	if syncer, ok := vol.Driver.(block.Syncer); ok {
		if err := syncer.Sync(ctx); err != nil {
			return fmt.Errorf("sync volume %q: %w", vol.Name, err)
		}
	}

	fmt.Printf("Patched %s: %d bytes at offset %d\n", fs.Arg(0), written, *offset)
	return nil
}

// cmdRemove drops a file's catalog entry and frees its chain.
func cmdRemove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	var vf volumeFlags
	vf.register(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("rm: exactly one path required")
	}

	vol, cleanup, err := openVolume(ctx, vf)
	if err != nil {
		return err
	}
	defer cleanup()

	if vol.ReadOnly {
		return fmt.Errorf("volume %q is read-only", vol.Name)
	}
	writable, ok := vol.Catalog.(catalog.WritableCatalog)
	if !ok {
		return fmt.Errorf("catalog of volume %q is read-only", vol.Name)
	}
	alloc, ok := vol.Driver.(block.Allocator)
	if !ok {
		return fmt.Errorf("volume %q cannot free chains", vol.Name)
	}

	entry, err := writable.Remove(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	if err := alloc.FreeChain(ctx, entry.Start); err != nil {
		logger.Warn("Failed to free chain of %s at %d: %v (the garbage collector will reclaim it)", entry.Path, entry.Start, err)
	}

	if syncer, ok := vol.Driver.(block.Syncer); ok {
		if err := syncer.Sync(ctx); err != nil {
			return fmt.Errorf("sync volume %q: %w", vol.Name, err)
		}
	}

	fmt.Printf("Removed %s (%d bytes)\n", entry.Path, entry.Size)
	return nil
}

// cmdGC runs one garbage collection pass over a volume.
func cmdGC(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	var vf volumeFlags
	vf.register(fs)
	dryRun := fs.Bool("dry-run", false, "report what would be freed without freeing anything")
	fs.Parse(args)

	vol, cleanup, err := openVolume(ctx, vf)
	if err != nil {
		return err
	}
	defer cleanup()

	collector, err := gc.NewCollector(vol.Driver, vol.Catalog, gc.Config{
		Enabled: true,
		DryRun:  *dryRun,
	})
	if err != nil {
		return fmt.Errorf("volume %q: %w", vol.Name, err)
	}

	stats, err := collector.RunNow(ctx)
	if err != nil {
		return err
	}

	fmt.Println(stats.Summary())
	return nil
}

// cmdConfig manages the configuration file.
func cmdConfig(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("config: expected a subcommand (init or path)")
	}

	switch args[0] {
	case "init":
		fs := flag.NewFlagSet("config init", flag.ExitOnError)
		path := fs.String("path", "", "where to write the file (defaults to the standard location)")
		force := fs.Bool("force", false, "overwrite an existing file")
		fs.Parse(args[1:])

		written, err := config.InitConfigToPath(*path, *force)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote starter configuration to %s\n", written)
		return nil

	case "path":
		fmt.Println(config.GetDefaultConfigPath())
		return nil

	default:
		return fmt.Errorf("config: unknown subcommand %q (expected init or path)", args[0])
	}
}
