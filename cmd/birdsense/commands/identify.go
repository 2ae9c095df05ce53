package commands

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/perchlabs/birdsense/pkg/classify"
)

var (
	identifyOffline bool
	identifyOnline  bool
	identifyMinConf float32
	identifyLat     float64
	identifyLon     float64
	identifyWeek    int
	identifyModel   string
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	speciesStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	sciStyle     = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
	metaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var identifyCmd = &cobra.Command{
	Use:   "identify <recording.wav>",
	Short: "Classify a recording into ranked species predictions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		if identifyModel != "" {
			if err := app.engine.SwitchModel(ctx, identifyModel); err != nil {
				return err
			}
		}

		opts := classify.Options{
			ForceOffline: identifyOffline,
			ForceOnline:  identifyOnline,
			Week:         identifyWeek,
		}
		if cmd.Flags().Changed("min-confidence") {
			opts.HasMinConfidence = true
			opts.MinConfidence = identifyMinConf
		}
		if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
			opts.HasLocation = true
			opts.Latitude = identifyLat
			opts.Longitude = identifyLon
		}

		resp, err := app.engine.Classify(ctx, args[0], opts)
		if err != nil {
			return err
		}
		printResponse(resp)
		return nil
	},
}

func printResponse(resp *classify.Response) {
	if len(resp.Predictions) == 0 {
		fmt.Println("No species above the confidence threshold.")
	} else {
		fmt.Println(headerStyle.Render("Predictions"))
		for i, p := range resp.Predictions {
			line := fmt.Sprintf("%2d. %5.1f%%  %s", i+1, p.Confidence*100,
				speciesStyle.Render(p.CommonName))
			if p.ScientificName != "" {
				line += "  " + sciStyle.Render(p.ScientificName)
			}
			fmt.Println(line)
		}
	}
	fmt.Println(metaStyle.Render(fmt.Sprintf("source=%s cache_hit=%v fallback=%v took=%s",
		resp.Source, resp.CacheHit, resp.FallbackUsed, resp.ProcessingTime.Round(time.Millisecond))))
}

func init() {
	identifyCmd.Flags().BoolVar(&identifyOffline, "offline", false, "fail instead of falling back to the remote service")
	identifyCmd.Flags().BoolVar(&identifyOnline, "online", false, "skip cache and on-device models, use the remote service")
	identifyCmd.Flags().Float32Var(&identifyMinConf, "min-confidence", 0, "override the confidence threshold")
	identifyCmd.Flags().Float64Var(&identifyLat, "lat", 0, "observation latitude for seasonal re-weighting")
	identifyCmd.Flags().Float64Var(&identifyLon, "lon", 0, "observation longitude for seasonal re-weighting")
	identifyCmd.Flags().IntVar(&identifyWeek, "week", 0, "week of year 1-48 (default: current week)")
	identifyCmd.Flags().StringVar(&identifyModel, "model", "", "model variant to use")
	rootCmd.AddCommand(identifyCmd)
}
