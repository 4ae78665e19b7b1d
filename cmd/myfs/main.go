// myfs manages simplefs disk images: creating and formatting them, and
// manipulating the files inside.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"
	"github.com/zkurisu/simplefs"
	"github.com/zkurisu/simplefs/disk"
	"github.com/zkurisu/simplefs/disks"
	"github.com/zkurisu/simplefs/fsys"
)

func main() {
	app := cli.App{
		Name:  "myfs",
		Usage: "Manage simplefs block file system images",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:    "disk",
				Aliases: []string{"d"},
				Usage:   "disk slot to operate on (image lives at /tmp/disk<N>.img)",
				Value:   0,
			},
			&cli.UintFlag{
				Name:    "block-size",
				Aliases: []string{"b"},
				Usage:   "block size in bytes",
				Value:   4096,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Create a zero-filled image file",
				ArgsUsage: "BLOCK_COUNT",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "profile",
						Usage: "use a predefined geometry instead of BLOCK_COUNT",
					},
					&cli.BoolFlag{
						Name:  "list-profiles",
						Usage: "list predefined geometries and exit",
					},
				},
				Action: initImage,
			},
			{
				Name:   "format",
				Usage:  "Lay out superblock, bitmaps, and inode table; create the root directory",
				Action: formatImage,
			},
			{
				Name:   "diskinfo",
				Usage:  "Print raw device geometry",
				Action: diskInfo,
			},
			{
				Name:   "fsinfo",
				Usage:  "Print file system geometry and usage",
				Action: fsInfo,
			},
			{
				Name:      "touch",
				Usage:     "Create an empty file",
				ArgsUsage: "PATH",
				Action:    pathAction((*fsys.FileSystem).Touch),
			},
			{
				Name:      "unlink",
				Usage:     "Delete a file",
				ArgsUsage: "PATH",
				Action:    pathAction((*fsys.FileSystem).Unlink),
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory (interior components are created as needed)",
				ArgsUsage: "PATH",
				Action:    pathAction((*fsys.FileSystem).Mkdir),
			},
			{
				Name:      "rmdir",
				Usage:     "Delete a directory and everything inside it",
				ArgsUsage: "PATH",
				Action:    pathAction((*fsys.FileSystem).Rmdir),
			},
			{
				Name:      "ls",
				Usage:     "List a directory",
				ArgsUsage: "PATH",
				Action:    listDirectory,
			},
			{
				Name:      "cat",
				Usage:     "Print a file's content",
				ArgsUsage: "PATH",
				Action:    catFile,
			},
			{
				Name:      "stat",
				Usage:     "Print inode number, type, size, and block count",
				ArgsUsage: "PATH",
				Action:    statPath,
			},
			{
				Name:      "cp",
				Usage:     "Copy a file (a directory is copied one level deep: its entry blocks, not its subtrees)",
				ArgsUsage: "SRC DST",
				Action:    copyPath,
			},
			{
				Name:      "write",
				Usage:     "Write bytes into a file (OFFSET of -1 appends)",
				ArgsUsage: "PATH OFFSET CONTENT",
				Action:    writeFile,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("myfs: %s", err)
	}
}

func diskArgs(ctx *cli.Context) (uint8, uint32, error) {
	diskID := ctx.Uint("disk")
	blockSize := ctx.Uint("block-size")
	if diskID >= disk.MaxDisks {
		return 0, 0, cli.Exit(
			fmt.Sprintf("disk slot %d not in range [0, %d)", diskID, disk.MaxDisks), 1)
	}
	return uint8(diskID), uint32(blockSize), nil
}

// withMounted attaches the image, mounts it, runs fn, then unmounts and
// detaches even when fn fails.
func withMounted(ctx *cli.Context, fn func(fs *fsys.FileSystem) error) error {
	diskID, blockSize, err := diskArgs(ctx)
	if err != nil {
		return err
	}

	dev, err := disk.Attach(blockSize, diskID)
	if err != nil {
		return err
	}
	defer dev.Detach()

	fs, err := fsys.Mount(dev)
	if err != nil {
		return err
	}

	opErr := fn(fs)
	if err := fs.Unmount(); err != nil && opErr == nil {
		opErr = err
	}
	return opErr
}

func pathAction(op func(*fsys.FileSystem, string) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.Exit("expected exactly one PATH argument", 1)
		}
		return withMounted(ctx, func(fs *fsys.FileSystem) error {
			return op(fs, ctx.Args().Get(0))
		})
	}
}

func initImage(ctx *cli.Context) error {
	if ctx.Bool("list-profiles") {
		for _, profile := range disks.ListProfiles() {
			fmt.Printf("%-10s %6d x %-5d (%d bytes)  %s\n",
				profile.Slug, profile.BlockCount, profile.BlockSize,
				profile.TotalSizeBytes(), profile.Name)
		}
		return nil
	}

	diskID, blockSize, err := diskArgs(ctx)
	if err != nil {
		return err
	}

	var blockCount uint32
	if slug := ctx.String("profile"); slug != "" {
		profile, err := disks.GetProfile(slug)
		if err != nil {
			return err
		}
		blockCount = profile.BlockCount
		blockSize = profile.BlockSize
	} else {
		if ctx.NArg() != 1 {
			return cli.Exit("expected BLOCK_COUNT (or --profile)", 1)
		}
		count, err := strconv.ParseUint(ctx.Args().Get(0), 10, 32)
		if err != nil || count == 0 {
			return cli.Exit(fmt.Sprintf("bad block count %q", ctx.Args().Get(0)), 1)
		}
		blockCount = uint32(count)
	}

	if err := disk.Preallocate(diskID, blockCount, blockSize); err != nil {
		return err
	}
	fmt.Printf("created %s: %d blocks of %d bytes\n",
		disk.ImagePath(diskID), blockCount, blockSize)
	return nil
}

func formatImage(ctx *cli.Context) error {
	diskID, blockSize, err := diskArgs(ctx)
	if err != nil {
		return err
	}

	dev, err := disk.Attach(blockSize, diskID)
	if err != nil {
		return err
	}
	defer dev.Detach()

	if err := fsys.Format(dev); err != nil {
		return err
	}
	fmt.Printf("formatted %s\n", disk.ImagePath(diskID))
	return nil
}

func diskInfo(ctx *cli.Context) error {
	diskID, blockSize, err := diskArgs(ctx)
	if err != nil {
		return err
	}

	dev, err := disk.Attach(blockSize, diskID)
	if err != nil {
		return err
	}
	defer dev.Detach()

	fmt.Printf("disk %d: %d blocks of %d bytes (%d bytes total)\n",
		dev.ID(), dev.TotalBlocks(), dev.BlockSize(),
		int64(dev.TotalBlocks())*int64(dev.BlockSize()))
	return nil
}

func fsInfo(ctx *cli.Context) error {
	return withMounted(ctx, func(fs *fsys.FileSystem) error {
		fmt.Println(fs.Stat())
		return nil
	})
}

func listDirectory(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("expected exactly one PATH argument", 1)
	}
	return withMounted(ctx, func(fs *fsys.FileSystem) error {
		entries, err := fs.List(ctx.Args().Get(0))
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("%c %10d  %s\n", entry.Type.Marker(), entry.Size, entry.Name)
		}
		return nil
	})
}

func catFile(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("expected exactly one PATH argument", 1)
	}
	return withMounted(ctx, func(fs *fsys.FileSystem) error {
		return fs.Cat(ctx.Args().Get(0), os.Stdout)
	})
}

func statPath(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("expected exactly one PATH argument", 1)
	}
	return withMounted(ctx, func(fs *fsys.FileSystem) error {
		stat, err := fs.StatPath(ctx.Args().Get(0))
		if err != nil {
			return err
		}
		fmt.Printf("inode:  %d\ntype:   %s\nsize:   %d bytes\nblocks: %d\n",
			stat.InodeNum, stat.Type, stat.Size, stat.Blocks)
		return nil
	})
}

func copyPath(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("expected SRC and DST arguments", 1)
	}
	return withMounted(ctx, func(fs *fsys.FileSystem) error {
		return fs.Cp(ctx.Args().Get(0), ctx.Args().Get(1))
	})
}

func writeFile(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return cli.Exit("expected PATH, OFFSET, and CONTENT arguments", 1)
	}

	offset, err := strconv.ParseInt(ctx.Args().Get(1), 10, 64)
	if err != nil {
		return cli.Exit(fmt.Sprintf("bad offset %q", ctx.Args().Get(1)), 1)
	}

	return withMounted(ctx, func(fs *fsys.FileSystem) error {
		fh, err := fs.Open(ctx.Args().Get(0), simplefs.O_WRONLY)
		if err != nil {
			return err
		}
		defer fh.Close()

		if offset == -1 {
			_, err = fh.Seek(0, simplefs.SeekEnd)
		} else {
			_, err = fh.Seek(offset, simplefs.SeekSet)
		}
		if err != nil {
			return err
		}

		written, err := fh.Write([]byte(ctx.Args().Get(2)))
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d bytes\n", written)
		return nil
	})
}
