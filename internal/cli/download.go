package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/config"
	installcontroller "github.com/kennethnrk/mixtex-ocr/internal/controller/installs"
	"github.com/kennethnrk/mixtex-ocr/internal/installer"
	"github.com/kennethnrk/mixtex-ocr/internal/store"
)

func (a *app) downloadCommand() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Install the released model into --model-dir",
		Long: `Download the model archive named by the latest GitHub release, replace
the model directory with its onnx/ tree and record the install. A running
server picks the new files up on /reload_model or through --watch-interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.New(a.cfg.DataDir)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					a.logger.Warn("Store close failed", zap.Error(err))
				}
			}()
			out := cmd.OutOrStdout()

			if history {
				installs, err := installcontroller.ListInstalls(st)
				if err != nil {
					return err
				}
				for _, inst := range installs {
					fmt.Fprintf(out, "%s  %s  %d files  %s\n",
						inst.InstalledAt.Format("2006-01-02 15:04:05"), inst.Fingerprint, len(inst.Files), inst.Source)
				}
				return nil
			}

			inst := installer.New(a.installerConfig(), nil, st, nil, a.logger.Named("installer"))
			res, err := inst.Install(cmd.Context())
			if err != nil {
				return fmt.Errorf("download model: %w", err)
			}
			fmt.Fprintln(out, res.Message)
			if res.Install != nil {
				fmt.Fprintf(out, "%d files from %s into %s\n", len(res.Install.Files), res.Source, res.Install.Dir)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "list recorded installs instead of downloading")
	cmd.Flags().String("release-api-url", config.DefaultReleaseAPIURL, "GitHub releases API URL")
	cmd.Flags().String("release-asset", config.DefaultReleaseAsset, "release asset holding the model")
	a.mustBindPFlag(config.KeyReleaseAPIURL, cmd.Flags().Lookup("release-api-url"))
	a.mustBindPFlag(config.KeyReleaseAsset, cmd.Flags().Lookup("release-asset"))
	return cmd
}
