package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/imgsieve/config"
	"github.com/hupe1980/imgsieve/feature"
	"github.com/hupe1980/imgsieve/index"
	"github.com/hupe1980/imgsieve/store"
)

var processFlags struct {
	input     string
	output    string
	budget    int
	segments  int
	centroids int
	seed      int64
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringVarP(&processFlags.input, "input", "i", "", "raw vector file (required)")
	processCmd.Flags().StringVarP(&processFlags.output, "output", "o", "", "collection output directory")
	processCmd.Flags().IntVar(&processFlags.budget, "budget", 0, "concepts kept per compressed feature")
	processCmd.Flags().IntVar(&processFlags.segments, "segments", 0, "product quantization segments")
	processCmd.Flags().IntVar(&processFlags.centroids, "centroids", 0, "centroids per segment codebook (0 = auto)")
	processCmd.Flags().Int64Var(&processFlags.seed, "seed", 0, "codebook training seed")
	_ = processCmd.MarkFlagRequired("input")
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process raw feature vectors into a collection",
	Long: `Process reads a raw vector file, compresses the features, trains the
product-quantization codebooks and writes the collection directory the
serve command loads.

The raw vector file is little-endian binary: a uint64 image count, a
uint32 dimensionality, then count*dimension float32 values in row order.`,
	RunE: runProcess,
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}

	budget := cfg.Processing.FeatureBudget
	if cmd.Flags().Changed("budget") {
		budget = processFlags.budget
	}
	segments := cfg.Processing.NumSegments
	if cmd.Flags().Changed("segments") {
		segments = processFlags.segments
	}
	centroids := cfg.Processing.NumCentroids
	if cmd.Flags().Changed("centroids") {
		centroids = processFlags.centroids
	}
	seed := cfg.Processing.Seed
	if cmd.Flags().Changed("seed") {
		seed = processFlags.seed
	}
	output := cfg.Collection.Dir
	if cmd.Flags().Changed("output") {
		output = processFlags.output
	}

	vectors, err := readRawVectors(processFlags.input)
	if err != nil {
		return fmt.Errorf("read %s: %w", processFlags.input, err)
	}

	logger.Info("processing collection",
		"input", processFlags.input,
		"n_images", len(vectors),
		"dimension", len(vectors[0]),
		"budget", budget,
		"segments", segments,
	)

	rows := make([]feature.CompressedFeature, len(vectors))
	for i, v := range vectors {
		rows[i] = feature.Compress(v, budget)
	}

	fs, err := feature.NewStore(rows, len(vectors[0]))
	if err != nil {
		return err
	}

	ci, err := index.Build(vectors, segments, centroids, seed)
	if err != nil {
		return err
	}

	if err := store.WriteCollection(output, fs, ci, budget); err != nil {
		return err
	}

	logger.Info("collection written", "collection", output)
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d images into %s\n", len(vectors), output)

	return nil
}

// readRawVectors loads the framed binary vector file.
func readRawVectors(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	var dim uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, err
	}
	if n == 0 || dim == 0 {
		return nil, fmt.Errorf("empty vector file: %d images, dimension %d", n, dim)
	}

	vectors := make([][]float32, n)
	for i := range vectors {
		row := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return nil, fmt.Errorf("truncated vector file: image %d of %d", i, n)
			}
			return nil, err
		}
		vectors[i] = row
	}

	return vectors, nil
}
