// Package train drives the epoch loop: forward/backward over mini-batches
// with gradient accumulation, a warmup-linear learning-rate schedule,
// periodic span-F1 validation and best-checkpoint selection.
package train

import (
	"fmt"
	"path/filepath"

	"github.com/gosuri/uiprogress"

	"github.com/PurestEarth/nertrain/ner/config"
	"github.com/PurestEarth/nertrain/ner/dataset"
	"github.com/PurestEarth/nertrain/ner/features"
	"github.com/PurestEarth/nertrain/ner/model"
	"github.com/PurestEarth/nertrain/ner/runctx"
)

// stepLogInterval controls how often the running mean loss is logged.
const stepLogInterval = 1000

// Trainer owns one training run. It mutates nothing shared beyond the
// best-F1 scalar it tracks itself; all randomness comes from the run
// context.
type Trainer struct {
	rc  *runctx.RunContext
	cfg *config.TrainConfig

	// evaluate is swappable so the checkpoint policy can be tested
	// without a real model.
	evaluate func(m model.Model, data *dataset.Dataset) (float64, string, error)

	// progress bars only make sense on a terminal; tests switch them off
	showProgress bool
}

// New builds a Trainer bound to the run context and configuration.
func New(rc *runctx.RunContext, cfg *config.TrainConfig, labelMap *features.LabelMap) *Trainer {
	evaluator := NewEvaluator(labelMap, cfg.EvalBatchSize)
	return &Trainer{
		rc:           rc,
		cfg:          cfg,
		evaluate:     evaluator.Evaluate,
		showProgress: true,
	}
}

// Train runs the full state machine: Initializing, then per epoch a
// training pass, validation and checkpointing, until Done.
func (t *Trainer) Train(m model.Model, trainData, validData *dataset.Dataset, labelMap *features.LabelMap) error {
	// Initializing: both guards are fatal before any work starts.
	if t.cfg.GradientAccumulationSteps < 1 {
		return fmt.Errorf("invalid gradient accumulation steps %d, should be >= 1", t.cfg.GradientAccumulationSteps)
	}
	if err := EnsureFreshOutputDir(t.cfg.Output); err != nil {
		return err
	}

	accum := t.cfg.GradientAccumulationSteps
	batchSize := t.cfg.TrainBatchSize / accum
	totalSteps := trainData.Len() / batchSize / accum * t.cfg.Epochs

	optimizer := NewAdamW(m.Parameters(), t.cfg.LearningRate, t.cfg.AdamEpsilon, t.cfg.WeightDecay)
	schedule := NewWarmupLinearSchedule(totalSteps, t.cfg.WarmupProportion)

	history, err := OpenHistory(t.cfg.Output, t.rc.RunID)
	if err != nil {
		return err
	}
	defer history.Close()

	checkpointParams := Params{
		Dropout:   t.cfg.Dropout,
		NumLabels: labelMap.NumLabels(),
		LabelList: labelMap.Labels(),
	}

	t.rc.Log.Info().
		Int("examples", trainData.Len()).
		Int("batch_size", batchSize).
		Int("steps", totalSteps).
		Msg("running training")

	bestF1 := 0.0
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		t.rc.Log.Info().Int("epoch", epoch).Msg("epoch start")
		meanLoss := t.trainingPass(m, trainData, optimizer, schedule, batchSize, accum)

		// Validating
		f1, report, err := t.evaluate(m, validData)
		if err != nil {
			return fmt.Errorf("epoch %d validation: %w", epoch, err)
		}
		t.rc.Log.Info().Int("epoch", epoch).Float64("f1", f1).Msg("validation done")
		fmt.Println(report)

		// Checkpointing: only a strict improvement replaces the best model.
		improved := f1 > bestF1
		if improved {
			bestF1 = f1
			t.rc.Log.Info().Float64("f1", f1).Msg("found better f1 on validation set, saving model")
			if err := SaveCheckpoint(t.cfg.Output, m, checkpointParams); err != nil {
				return err
			}
		}
		if t.cfg.EpochSaveModel {
			epochDir := filepath.Join(t.cfg.Output, fmt.Sprintf("e%03d", epoch))
			if err := SaveCheckpoint(epochDir, m, checkpointParams); err != nil {
				return err
			}
		}
		if err := history.Record(epoch, meanLoss, f1, improved); err != nil {
			return err
		}
	}
	t.rc.Log.Info().Float64("best_f1", bestF1).Msg("training done")
	return nil
}

// trainingPass iterates one epoch of mini-batches and returns the mean
// (accumulation-scaled) loss.
func (t *Trainer) trainingPass(m model.Model, trainData *dataset.Dataset,
	optimizer *AdamW, schedule *WarmupLinearSchedule, batchSize, accum int) float64 {

	m.SetTraining(true)
	batches := trainData.Batches(dataset.RandomSampler{Rand: t.rc.Rand}, batchSize)

	var bar *uiprogress.Bar
	if t.showProgress {
		uiprogress.Start()
		bar = uiprogress.AddBar(len(batches))
		bar.AppendCompleted()
		bar.PrependElapsed()
	}

	var trLoss float64
	scale := 1 / float64(accum)
	for step, batch := range batches {
		loss, err := m.Loss(batch, scale)
		if err != nil {
			// an unusable batch indicates corrupt features upstream
			t.rc.Log.Error().Err(err).Int("step", step).Msg("dropping batch")
			continue
		}
		trLoss += loss
		model.ClipGradNorm(m.Parameters(), t.cfg.MaxGradNorm)

		if (step+1)%accum == 0 {
			optimizer.Step(schedule.Factor())
			schedule.Advance()
			model.ZeroGrad(m.Parameters())
		}
		if step%stepLogInterval == 0 {
			t.rc.Log.Info().
				Int("step", step+1).
				Int("steps", len(batches)).
				Float64("loss", trLoss/float64(step+1)).
				Msg("training")
		}
		if bar != nil {
			bar.Incr()
		}
	}
	if t.showProgress {
		uiprogress.Stop()
	}
	if len(batches) == 0 {
		return 0
	}
	return trLoss / float64(len(batches))
}
