// Command ngram-lm-build compiles an ARPA-format language model into a
// ngramtrie binary snapshot.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/rpcpool/ngramtrie/ngramtrie"
)

func main() {
	app := &cli.App{
		Name:        "ngram-lm-build",
		Usage:       "compile an ARPA language model into a ngramtrie snapshot",
		ArgsUsage:   "ARPA_FILE OUT_FILE",
		Description: "Reads an ARPA-format n-gram language model and writes a compact, bit-packed binary trie suitable for Probability/NextWord/TopK queries.",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:     "order",
				Aliases:  []string{"n"},
				Usage:    "the n-gram order declared by the ARPA file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "vocab-accel-tmp-dir",
				Usage: "scratch directory for the optional accelerated vocabulary index; empty to skip building one",
			},
		},
		Action: runBuild,
	}

	if err := app.Run(os.Args); err != nil {
		klog.Fatal(err)
	}
}

func runBuild(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return cli.Exit("usage: ngram-lm-build --order=N ARPA_FILE OUT_FILE", 2)
	}
	arpaPath := c.Args().Get(0)
	outPath := c.Args().Get(1)
	order := c.Uint("order")

	runID := uuid.New().String()
	klog.Infof("build %s: order=%d arpa=%s out=%s", runID, order, arpaPath, outPath)

	in, err := os.Open(arpaPath)
	if err != nil {
		return cli.Exit(fmt.Errorf("open arpa file: %w", err), 1)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return cli.Exit(fmt.Errorf("stat arpa file: %w", err), 1)
	}

	bar := progressbar.DefaultBytes(fi.Size(), "reading arpa")
	source := progressbar.NewReader(in, bar)

	startedAt := time.Now()
	trie, err := ngramtrie.BuildFromARPA(&source, uint16(order))
	if err != nil {
		return cli.Exit(fmt.Errorf("build trie: %w", err), 1)
	}
	klog.Infof("build %s: parsed %s of ARPA input in %s", runID, humanize.Bytes(uint64(fi.Size())), time.Since(startedAt))

	if tmpDir := c.String("vocab-accel-tmp-dir"); tmpDir != "" {
		if err := trie.BuildVocabAccelerator(tmpDir); err != nil {
			return cli.Exit(fmt.Errorf("build vocabulary accelerator: %w", err), 1)
		}
		defer trie.Close()
	}

	out, err := os.Create(outPath)
	if err != nil {
		return cli.Exit(fmt.Errorf("create output file: %w", err), 1)
	}
	defer out.Close()

	if err := trie.Save(out); err != nil {
		return cli.Exit(fmt.Errorf("write snapshot: %w", err), 1)
	}

	outInfo, err := out.Stat()
	if err == nil {
		klog.Infof("build %s: wrote %s snapshot to %s (order %d, %s n-grams)",
			runID, humanize.Bytes(uint64(outInfo.Size())), outPath, order, humanize.Comma(int64(trie.NNgrams(int(order)))))
	}
	return nil
}
