// Package main provides the bytesplit CLI: training and export of the
// byte-level sequence tagger.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/bytesplit-ml/bytesplit/internal/backend/cpu"
	"github.com/bytesplit-ml/bytesplit/internal/data"
	"github.com/bytesplit-ml/bytesplit/internal/export"
	"github.com/bytesplit-ml/bytesplit/internal/model"
	"github.com/bytesplit-ml/bytesplit/internal/serialization"
	"github.com/bytesplit-ml/bytesplit/internal/train"
)

const version = "v0.1.0"

// Validation split: sampled once at a fixed seed so every run trains
// against the same held-out examples.
const (
	validationSize = 20_000
	splitSeed      = 1234
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("bytesplit %s\n", version)
	case "prepare":
		err = runPrepare(os.Args[2:])
	case "train":
		err = runTrain(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bytesplit: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("bytesplit - byte-level token and sentence boundary tagger")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  prepare    Build a memory-mapped corpus from raw text")
	fmt.Println("  train      Train the tagger on a memory-mapped corpus")
	fmt.Println("  export     Write deployment artifacts from a checkpoint")
	fmt.Println("  version    Show version")
}

// runPrepare converts a raw input file (one text per line) into the
// concatenated texts file plus slice index the train command maps.
func runPrepare(args []string) error {
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	in := fs.String("in", "", "raw input file, one text per line (required)")
	texts := fs.String("texts", "texts.txt", "output corpus file")
	index := fs.String("index", "slices.idx", "output slice index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("prepare: -in is required")
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		line := make([]byte, len(sc.Bytes()))
		copy(line, sc.Bytes())
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("prepare: %s contains no texts", *in)
	}

	if err := data.WriteCorpus(lines, *texts, *index); err != nil {
		return err
	}
	fmt.Printf("wrote %d texts to %s (index %s)\n", len(lines), *texts, *index)
	return nil
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	texts := fs.String("texts", "texts.txt", "concatenated corpus file")
	index := fs.String("index", "slices.idx", "slice index for the corpus")
	epochs := fs.Int("epochs", 10, "number of epochs")
	checkpoint := fs.String("checkpoint", "", "checkpoint path pattern with one %d for the epoch")
	logEvery := fs.Int("log-every", 50, "print running loss every N steps (0 disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	net, dataset, err := buildTask(*texts, *index)
	if err != nil {
		return err
	}
	defer dataset.Close()

	trainer := train.New(net, train.Config{
		Epochs:         *epochs,
		Out:            os.Stdout,
		CheckpointPath: *checkpoint,
		LogEvery:       *logEvery,
	})
	return trainer.Run()
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	checkpoint := fs.String("checkpoint", "", "state-dict artifact to export (required)")
	dir := fs.String("dir", "artifacts", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkpoint == "" {
		return fmt.Errorf("export: -checkpoint is required")
	}

	net, err := model.NewNetwork(cpu.New())
	if err != nil {
		return err
	}

	r, err := serialization.Open(*checkpoint)
	if err != nil {
		return err
	}
	sd, err := r.StateDict()
	if err != nil {
		return err
	}
	if err := net.LoadStateDict(sd); err != nil {
		return err
	}

	return export.Store(net, *dir, export.DefaultOptions())
}

// buildTask opens the corpus, windows it, splits off the fixed
// validation subset and attaches both to a fresh network.
func buildTask(texts, index string) (*model.Network[*cpu.Backend], *data.MemoryMapDataset, error) {
	corpus, err := data.NewMemoryMapDataset(texts, index)
	if err != nil {
		return nil, nil, err
	}

	windows, err := data.NewSplitDataset(corpus, 500, 800, 20)
	if err != nil {
		corpus.Close()
		return nil, nil, err
	}

	trainIdx, validIdx, err := data.TrainTestSplit(windows.Len(), validationSize, splitSeed)
	if err != nil {
		corpus.Close()
		return nil, nil, err
	}

	net, err := model.NewNetwork(cpu.New())
	if err != nil {
		corpus.Close()
		return nil, nil, err
	}
	net.AttachData(data.NewSubset(windows, trainIdx), data.NewSubset(windows, validIdx))
	return net, corpus, nil
}
