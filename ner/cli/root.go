// Package cli wires the cobra command tree for the nertrain binary.
package cli

import (
	"github.com/spf13/cobra"

	ner "github.com/PurestEarth/nertrain/ner"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   ner.DefaultAppName,
	Short: "Train and evaluate sequence-labeling taggers",
	Long: `nertrain trains named-entity taggers over per-document JSON corpora.
Three architectures are available: a recurrent tagger with a linear-chain
output layer (LSTM), a windowed-attention transformer (Reformer) and a
fine-tuned pretrained transformer (BERT).`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ./"+ner.DefaultAppName+".yaml)")
}
