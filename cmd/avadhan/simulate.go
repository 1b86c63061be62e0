package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/avadhan/core"
)

var (
	simEpochs    int
	simThreads   int
	simBatchSize int
	simJSON      bool
	simSearch    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run training steps over synthetic threads",
	Long: `Run a project through a number of training steps, feeding each step a
batch of synthetic messages spread over more threads than there are slots.

Examples:
  avadhan simulate --epochs 50
  avadhan simulate --regime shata --threads 150 --json
  avadhan simulate --search "thread 3"`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntVarP(&simEpochs, "epochs", "e", 20, "Number of training steps")
	simulateCmd.Flags().IntVarP(&simThreads, "threads", "t", 12, "Number of distinct threads")
	simulateCmd.Flags().IntVarP(&simBatchSize, "batch", "b", 4, "Messages per training step")
	simulateCmd.Flags().BoolVar(&simJSON, "json", false, "Print the final engine state as JSON")
	simulateCmd.Flags().StringVar(&simSearch, "search", "", "Search consolidated gists after the run")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	enc, err := newEncoder(cfg)
	if err != nil {
		return err
	}
	svc, err := newService(cfg, enc)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	const projectID = "simulation"
	if _, err := svc.CreateEngine(projectID, cfg.Engine); err != nil {
		return err
	}
	if _, err := svc.StartTraining(projectID); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for epoch := 0; epoch < simEpochs; epoch++ {
		m, err := svc.TrainingStep(ctx, projectID, syntheticBatch(epoch, simBatchSize, simThreads))
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if !simJSON {
			printMetrics(out, m)
		}
	}
	if _, err := svc.StopTraining(projectID); err != nil {
		return err
	}

	st, err := svc.GetEngineState(projectID)
	if err != nil {
		return err
	}
	if simJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(out, "\nslots %d/%d  gists %d episodic, %d semantic  actions %d\n",
		len(st.Slots.Slots), st.Slots.MaxSlots, st.Memory.EpisodicCount, st.Memory.SemanticCount, st.Controller.TotalActions)

	if simSearch != "" {
		hits, err := svc.SearchMemory(ctx, projectID, simSearch, 5)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nsearch %q: %d hits\n", simSearch, len(hits))
		for i, h := range hits {
			fmt.Fprintf(out, "  %d. [%.3f] %s (thread %s)\n", i+1, h.Similarity, h.Gist.Text, h.Gist.ThreadID)
		}
	}
	return nil
}

func syntheticBatch(epoch, size, threads int) []core.InputItem {
	if threads <= 0 {
		threads = 1
	}
	items := make([]core.InputItem, size)
	for i := range items {
		thread := (epoch*size + i) % threads
		items[i] = core.InputItem{
			Text:     fmt.Sprintf("Update %d on thread %d. Status looks steady.", epoch, thread),
			ThreadID: fmt.Sprintf("thread-%d", thread),
		}
	}
	return items
}

func printMetrics(w io.Writer, m core.TrainingMetrics) {
	fmt.Fprintf(w, "epoch %3d  loss %.4f  recall %.3f  purity %.3f  interference %.4f  hallucination %.3f\n",
		m.Epoch, m.Loss, m.RecallAccuracy, m.ThreadPurity, m.InterferenceRate, m.HallucinationRate)
}

