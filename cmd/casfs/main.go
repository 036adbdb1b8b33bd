// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// casfs manages content-addressed object stores and mounts their
// directory trees as read-only filesystems.
//
// Usage:
//
//	casfs init --store <dir>
//	casfs import [flags] <directory>
//	casfs import-tar [flags] <archive>
//	casfs label [flags] <name> [<object-id>]
//	casfs labels --store <dir>
//	casfs mount [flags]
//	casfs cat [flags] <object-id-or-label> [<path>]
//	casfs gc --store <dir>
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/casfs/lib/config"
	"github.com/bureau-foundation/casfs/lib/dirtree"
	treefuse "github.com/bureau-foundation/casfs/lib/dirtree/fuse"
	"github.com/bureau-foundation/casfs/lib/importer"
	"github.com/bureau-foundation/casfs/lib/object"
	"github.com/bureau-foundation/casfs/lib/store"
	"github.com/bureau-foundation/casfs/lib/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("CASFS_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = initCmd(args, logger)
	case "import":
		err = importCmd(args, logger)
	case "import-tar":
		err = importTarCmd(args, logger)
	case "label":
		err = labelCmd(args, logger)
	case "labels":
		err = labelsCmd(args, logger)
	case "mount":
		err = mountCmd(args, logger)
	case "cat":
		err = catCmd(args, logger)
	case "gc":
		err = gcCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("casfs %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`casfs - Content-addressed read-only filesystem

USAGE
    casfs <command> [flags] [args...]

COMMANDS
    init        Create an empty object store
    import      Import a directory tree into a store
    import-tar  Import a tar archive (plain, gzip, or zstd)
    label       Set or delete a named reference to an object
    labels      List labels
    mount       Mount a directory object as a filesystem
    cat         Write an object's content to stdout
    gc          Remove unreferenced objects
    version     Show version

EXAMPLES
    # Create a store and import a tree under a label
    casfs init --store /var/lib/casfs
    casfs import --store /var/lib/casfs --label base/v1 /srv/rootfs

    # Mount the labeled tree
    casfs mount --store /var/lib/casfs --label base/v1 --mountpoint /mnt/base

    # Drop the label and collect everything it kept alive
    casfs label --store /var/lib/casfs --delete base/v1
    casfs gc --store /var/lib/casfs

ENVIRONMENT
    CASFS_DEBUG  Enable debug logging
`)
}

// openStore is the shared store flag handling: every subcommand that
// touches a store takes --store.
func openStore(path string, logger *slog.Logger) (*store.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("--store is required")
	}
	return store.NewStore(path, logger)
}

func initCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("init", pflag.ExitOnError)
	storePath := fs.String("store", "", "store directory (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openStore(*storePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Printf("initialized store at %s\n", *storePath)
	return nil
}

func importCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("import", pflag.ExitOnError)
	storePath := fs.String("store", "", "store directory (required)")
	label := fs.String("label", "", "label to point at the imported root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: casfs import [flags] <directory>")
	}

	st, err := openStore(*storePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	root, stats, err := importer.ImportPath(st, fs.Arg(0), logger)
	if err != nil {
		return err
	}
	return finishImport(st, root, stats, *label)
}

func importTarCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("import-tar", pflag.ExitOnError)
	storePath := fs.String("store", "", "store directory (required)")
	label := fs.String("label", "", "label to point at the imported root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: casfs import-tar [flags] <archive> (use - for stdin)")
	}

	var input io.Reader = os.Stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("opening archive %s: %w", name, err)
		}
		defer f.Close()
		input = f
	}

	st, err := openStore(*storePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	root, stats, err := importer.ImportTar(st, input, logger)
	if err != nil {
		return err
	}
	return finishImport(st, root, stats, *label)
}

func finishImport(st *store.Store, root object.ID, stats *importer.Stats, label string) error {
	if label != "" {
		if err := st.SetLabel(label, root, time.Now().UTC()); err != nil {
			return err
		}
	}
	fmt.Printf("imported %d directories, %d files, %d symlinks (%d bytes)\n",
		stats.Directories, stats.Files, stats.Symlinks, stats.Bytes)
	fmt.Printf("root %s\n", object.FormatID(root))
	return nil
}

func labelCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("label", pflag.ExitOnError)
	storePath := fs.String("store", "", "store directory (required)")
	remove := fs.Bool("delete", false, "delete the label instead of setting it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openStore(*storePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	switch {
	case *remove && fs.NArg() == 1:
		return st.DeleteLabel(fs.Arg(0))
	case !*remove && fs.NArg() == 2:
		id, err := object.ParseID(fs.Arg(1))
		if err != nil {
			return err
		}
		return st.SetLabel(fs.Arg(0), id, time.Now().UTC())
	default:
		return fmt.Errorf("usage: casfs label [flags] <name> <object-id>  |  casfs label --delete <name>")
	}
}

func labelsCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("labels", pflag.ExitOnError)
	storePath := fs.String("store", "", "store directory (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openStore(*storePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.Labels()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTARGET\tUPDATED")
	for _, record := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			record.Name,
			object.FormatID(record.Target),
			record.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func mountCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("mount", pflag.ExitOnError)
	configPath := fs.String("config", "", "mount config file (YAML)")
	storePath := fs.String("store", "", "store directory")
	rootHex := fs.String("root", "", "root directory object ID (64 hex chars)")
	label := fs.String("label", "", "label naming the root directory object")
	mountpoint := fs.String("mountpoint", "", "mount location")
	bufferSize := fs.Int("buffer-size", 0, "directory reader window size in bytes (0 = default)")
	allowOther := fs.Bool("allow-other", false, "allow other users to access the mount")
	if err := fs.Parse(args); err != nil {
		return err
	}

	options := treefuse.Options{
		BufferSize: *bufferSize,
		AllowOther: *allowOther,
		Logger:     logger,
	}

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		root, err := cfg.RootID()
		if err != nil {
			return err
		}
		st, err := openStore(cfg.Store, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		options.Store = st
		options.Root = root
		options.Mountpoint = cfg.Mountpoint
		options.BufferSize = cfg.BufferSize
		options.AllowOther = cfg.AllowOther
	} else {
		st, err := openStore(*storePath, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		root, err := resolveTarget(st, *rootHex, *label)
		if err != nil {
			return err
		}
		options.Store = st
		options.Root = root
		options.Mountpoint = *mountpoint
	}

	server, err := treefuse.Mount(options)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("unmounting", "mountpoint", options.Mountpoint)
		if err := server.Unmount(); err != nil {
			logger.Error("unmount failed", "error", err)
		}
	}()

	server.Wait()
	return nil
}

// resolveTarget turns the --root/--label flag pair into an object ID.
func resolveTarget(st *store.Store, rootHex, label string) (object.ID, error) {
	switch {
	case rootHex != "" && label != "":
		return object.ID{}, fmt.Errorf("--root and --label are mutually exclusive")
	case rootHex != "":
		return object.ParseID(rootHex)
	case label != "":
		id, found, err := st.Label(label)
		if err != nil {
			return object.ID{}, err
		}
		if !found {
			return object.ID{}, fmt.Errorf("label %q does not exist", label)
		}
		return id, nil
	default:
		return object.ID{}, fmt.Errorf("one of --root or --label is required")
	}
}

func catCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("cat", pflag.ExitOnError)
	storePath := fs.String("store", "", "store directory (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fmt.Errorf("usage: casfs cat --store <dir> <object-id-or-label> [<path>]")
	}

	st, err := openStore(*storePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := object.ParseID(fs.Arg(0))
	if err != nil {
		var found bool
		id, found, err = st.Label(fs.Arg(0))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%q is neither an object ID nor a label", fs.Arg(0))
		}
	}

	if fs.NArg() == 2 {
		id, err = resolvePath(st, id, fs.Arg(1))
		if err != nil {
			return err
		}
	}

	obj, err := st.OpenObject(id)
	if err != nil {
		return err
	}
	defer obj.Close()

	_, err = io.Copy(os.Stdout, io.NewSectionReader(obj, 0, obj.Size()))
	return err
}

// resolvePath walks a slash-separated path from a directory object
// down to the object backing the final component.
func resolvePath(st *store.Store, root object.ID, path string) (object.ID, error) {
	current := root
	for _, component := range strings.Split(strings.Trim(path, "/"), "/") {
		if component == "" {
			continue
		}

		obj, err := st.OpenObject(current)
		if err != nil {
			return object.ID{}, err
		}

		reader := dirtree.NewBufferedReader(obj, 0)
		header, err := dirtree.ReadHeader(reader)
		if err != nil {
			obj.Close()
			return object.ID{}, err
		}

		record, found, err := dirtree.Lookup(reader, header, component)
		obj.Close()
		if err != nil {
			return object.ID{}, err
		}
		if !found {
			return object.ID{}, fmt.Errorf("path component %q not found", component)
		}
		if record.Child.IsZero() {
			return object.ID{}, fmt.Errorf("entry %q has no backing object", component)
		}
		current = record.Child
	}
	return current, nil
}

func gcCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("gc", pflag.ExitOnError)
	storePath := fs.String("store", "", "store directory (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openStore(*storePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.GC()
	if err != nil {
		return err
	}
	fmt.Printf("removed %d objects (%d bytes), %d objects remain\n",
		stats.ObjectsRemoved, stats.BytesRemoved, stats.ObjectsKept)
	return nil
}
