// solvault pushes, pulls, lists, and diffs compiled-contract build artifacts
// between a local cache and a remote object store. This entrypoint is glue
// only: parsing, wiring, and exit codes live here, everything else in
// internal packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"solvault/internal/config"
	"solvault/internal/engine"
	"solvault/internal/store/local"
	"solvault/internal/store/remote"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "push":
		err = runPush(os.Args[2:])
	case "pull":
		err = runPull(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "diff":
		err = runDiff(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  solvault push -project <name> -path <build-output> [-tag <tag>] [-force] [-debug]
  solvault pull -project <name> [-target <tag-or-id>] [-force] [-debug]
  solvault list [-debug]
  solvault diff -project <name> -target <tag-or-id> -path <build-output> [-debug]`)
}

func runPush(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	project := fs.String("project", "", "project namespace")
	path := fs.String("path", "", "build output file or directory")
	tag := fs.String("tag", "", "optional tag to bind")
	force := fs.Bool("force", false, "re-point the tag if it already exists")
	debug := fs.Bool("debug", false, "log underlying causes")
	_ = fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := remote.NewStore(cfg.Remote)
	if err != nil {
		return err
	}

	id, err := engine.Push(context.Background(), *path, *project, *tag, store, engine.Options{Force: *force, Debug: *debug})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runPull(args []string) error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	project := fs.String("project", "", "project namespace")
	target := fs.String("target", "", "optional tag or id selector")
	force := fs.Bool("force", false, "re-download entries already present locally")
	debug := fs.Bool("debug", false, "log underlying causes")
	_ = fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := remote.NewStore(cfg.Remote)
	if err != nil {
		return err
	}
	localStore, err := local.NewStore(cfg.LocalRoot)
	if err != nil {
		return err
	}
	if err := localStore.EnsureSetup(); err != nil {
		return err
	}

	result, err := engine.Pull(context.Background(), *project, *target, store, localStore, engine.Options{Force: *force, Debug: *debug})
	if err != nil {
		return err
	}
	for _, tag := range result.PulledTags {
		fmt.Printf("pulled tag %s\n", tag)
	}
	for _, id := range result.PulledIDs {
		fmt.Printf("pulled id %s\n", id)
	}
	for _, tag := range result.FailedTags {
		fmt.Printf("FAILED tag %s\n", tag)
	}
	for _, id := range result.FailedIDs {
		fmt.Printf("FAILED id %s\n", id)
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	debug := fs.Bool("debug", false, "log underlying causes")
	_ = fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	localStore, err := local.NewStore(cfg.LocalRoot)
	if err != nil {
		return err
	}

	rows, err := engine.ListPulledArtifacts(localStore, engine.Options{Debug: *debug})
	if err != nil {
		return err
	}
	for _, row := range rows {
		tag := row.Tag
		if tag == "" {
			tag = "-"
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", row.Project, tag, row.ID, row.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runDiff(args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	project := fs.String("project", "", "project namespace")
	target := fs.String("target", "", "tag or id of the stored release")
	path := fs.String("path", "", "candidate build output file or directory")
	debug := fs.Bool("debug", false, "log underlying causes")
	_ = fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	localStore, err := local.NewStore(cfg.LocalRoot)
	if err != nil {
		return err
	}

	diffs, err := engine.Diff(*path, engine.DiffTarget{Project: *project, TagOrID: *target}, localStore, engine.Options{Debug: *debug})
	if err != nil {
		return err
	}
	if len(diffs) == 0 {
		fmt.Println("no contract-level changes")
		return nil
	}
	for _, d := range diffs {
		fmt.Printf("%s\t%s\n", d.Kind, d.Contract)
	}
	return nil
}
