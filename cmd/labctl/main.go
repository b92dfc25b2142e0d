// Package main implements labctl, the thin CLI collaborator over a
// columnar notebook file described in spec §6.4. It never removes or
// alters an individual record — its sub-commands operate only at the
// result-set/tag level.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/labframe/labframe/internal/config"
	"github.com/labframe/labframe/internal/notebook"
	"github.com/labframe/labframe/internal/persistence/columnar"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "labctl"
)

// Exit codes (spec §6.4).
const (
	exitOK    = 0
	exitUsage = 1
	exitError = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintf(stderr, "usage: %s <show|select|remove|copy> [flags]\n", name)

		return exitUsage
	}

	sub, rest := args[0], args[1:]

	logger := slog.New(slog.NewJSONHandler(stderr, nil))

	switch sub {
	case "--version", "-version":
		fmt.Fprintf(stdout, "%s v%s\n", name, version)

		return exitOK
	case "show":
		return runShow(rest, stdout, stderr, logger)
	case "select":
		return runSelect(rest, stdout, stderr, logger)
	case "remove":
		return runRemove(rest, stdout, stderr, logger)
	case "copy":
		return runCopy(rest, stdout, stderr, logger)
	default:
		fmt.Fprintf(stderr, "%s: unknown sub-command %q\n", name, sub)

		return exitUsage
	}
}

func runShow(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	path := fs.String("file", config.GetEnvStr("LABCTL_FILE", ""), "columnar notebook file (default from LABCTL_FILE)")

	if err := fs.Parse(args); err != nil || *path == "" {
		fmt.Fprintln(stderr, "usage: labctl show -file notebook.h5")

		return exitUsage
	}

	n, err := columnar.NewReader(*path, logger).Load()
	if err != nil {
		fmt.Fprintf(stderr, "labctl: load %s: %v\n", *path, err)

		return exitError
	}

	currentTag, _, _ := n.Current()

	for _, tag := range n.Tags() {
		rs, ok := n.ResultSet(tag)
		if !ok {
			continue
		}

		marker := " "
		if tag == currentTag {
			marker = "*"
		}

		fields := rs.SchemaReal().Fields()
		names := make([]string, len(fields))

		for i, f := range fields {
			names[i] = fmt.Sprintf("%s:%s", f.Name, f.Kind)
		}

		fmt.Fprintf(stdout, "%s %-20s records=%-6d pending=%-6d locked=%-5t schema=%v\n",
			marker, tag, rs.Len(), rs.PendingLen(), rs.Locked(), names)
	}

	return exitOK
}

func runSelect(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("select", flag.ContinueOnError)
	path := fs.String("file", config.GetEnvStr("LABCTL_FILE", ""), "columnar notebook file (default from LABCTL_FILE)")
	tag := fs.String("tag", config.GetEnvStr("LABCTL_TAG", ""), "tag to select as current (default from LABCTL_TAG)")

	if err := fs.Parse(args); err != nil || *path == "" || *tag == "" {
		fmt.Fprintln(stderr, "usage: labctl select -file notebook.h5 -tag name")

		return exitUsage
	}

	w := columnar.NewWriter(*path, nil, logger)

	n, err := columnar.NewReader(*path, logger).Load(notebook.WithPersister(w))
	if err != nil {
		fmt.Fprintf(stderr, "labctl: load %s: %v\n", *path, err)

		return exitError
	}

	if err := n.Select(*tag); err != nil {
		fmt.Fprintf(stderr, "labctl: select %s: %v\n", *tag, err)

		return exitError
	}

	if err := n.Commit(); err != nil {
		fmt.Fprintf(stderr, "labctl: commit: %v\n", err)

		return exitError
	}

	fmt.Fprintf(stdout, "current tag is now %q\n", *tag)

	return exitOK
}

func runRemove(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	path := fs.String("file", config.GetEnvStr("LABCTL_FILE", ""), "columnar notebook file (default from LABCTL_FILE)")
	tag := fs.String("tag", config.GetEnvStr("LABCTL_TAG", ""), "tag to remove (default from LABCTL_TAG)")

	if err := fs.Parse(args); err != nil || *path == "" || *tag == "" {
		fmt.Fprintln(stderr, "usage: labctl remove -file notebook.h5 -tag name")

		return exitUsage
	}

	w := columnar.NewWriter(*path, nil, logger)

	n, err := columnar.NewReader(*path, logger).Load(notebook.WithPersister(w))
	if err != nil {
		fmt.Fprintf(stderr, "labctl: load %s: %v\n", *path, err)

		return exitError
	}

	if n.Locked() {
		fmt.Fprintf(stderr, "labctl: notebook %s is locked, refusing to remove %s\n", *path, *tag)

		return exitError
	}

	if err := n.DeleteResultSet(*tag); err != nil {
		fmt.Fprintf(stderr, "labctl: remove %s: %v\n", *tag, err)

		return exitError
	}

	if err := n.Commit(); err != nil {
		fmt.Fprintf(stderr, "labctl: commit: %v\n", err)

		return exitError
	}

	fmt.Fprintf(stdout, "removed set %q\n", *tag)

	return exitOK
}

func runCopy(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("copy", flag.ContinueOnError)
	srcPath := fs.String("from", config.GetEnvStr("LABCTL_FROM", ""), "source columnar notebook file (default from LABCTL_FROM)")
	dstPath := fs.String("to", config.GetEnvStr("LABCTL_TO", ""), "destination columnar notebook file (default from LABCTL_TO)")
	tag := fs.String("tag", config.GetEnvStr("LABCTL_TAG", ""), "tag to copy (default from LABCTL_TAG)")

	if err := fs.Parse(args); err != nil || *srcPath == "" || *dstPath == "" || *tag == "" {
		fmt.Fprintln(stderr, "usage: labctl copy -from a.h5 -to b.h5 -tag name")

		return exitUsage
	}

	src, err := columnar.NewReader(*srcPath, logger).Load()
	if err != nil {
		fmt.Fprintf(stderr, "labctl: load %s: %v\n", *srcPath, err)

		return exitError
	}

	srcSet, ok := src.ResultSet(*tag)
	if !ok {
		fmt.Fprintf(stderr, "labctl: %s has no set %q\n", *srcPath, *tag)

		return exitError
	}

	dstWriter := columnar.NewWriter(*dstPath, nil, logger)

	var dst *notebook.Notebook

	if _, err := os.Stat(*dstPath); err == nil {
		dst, err = columnar.NewReader(*dstPath, logger).Load(notebook.WithPersister(dstWriter))
		if err != nil {
			fmt.Fprintf(stderr, "labctl: load %s: %v\n", *dstPath, err)

			return exitError
		}
	} else {
		dst = notebook.New(src.Description(), notebook.WithPersister(dstWriter))
	}

	already, err := dst.Already(*tag, srcSet.Description())
	if err != nil {
		fmt.Fprintf(stderr, "labctl: copy %s: %v\n", *tag, err)

		return exitError
	}

	dstSet, ok := dst.ResultSet(*tag)
	if !ok {
		fmt.Fprintf(stderr, "labctl: copy %s: destination set missing after creation\n", *tag)

		return exitError
	}

	if !already {
		if err := dstSet.AddRecords(srcSet.Records()); err != nil {
			fmt.Fprintf(stderr, "labctl: copy %s: %v\n", *tag, err)

			return exitError
		}
	}

	if err := dst.Commit(); err != nil {
		fmt.Fprintf(stderr, "labctl: commit: %v\n", err)

		return exitError
	}

	fmt.Fprintf(stdout, "copied %d records from %s:%s to %s:%s\n", srcSet.Len(), *srcPath, *tag, *dstPath, *tag)

	return exitOK
}
