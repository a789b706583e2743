package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	grpcapi "github.com/kennethnrk/mixtex-ocr/internal/api/grpc"
	"github.com/kennethnrk/mixtex-ocr/internal/imageprep"
	"github.com/kennethnrk/mixtex-ocr/internal/inference"
	"github.com/kennethnrk/mixtex-ocr/internal/postprocess"
	"github.com/kennethnrk/mixtex-ocr/internal/service"
)

type predictFlags struct {
	grpcapi.PredictOptions
	remote  string
	asJSON  bool
	timeout time.Duration
}

func (a *app) predictCommand() *cobra.Command {
	var pf predictFlags
	cmd := &cobra.Command{
		Use:   "predict <image>",
		Short: "Recognize one image",
		Long: `Recognize the formula in an image file and print the result. The model
is loaded from --model-dir unless --remote names a running server's gRPC
address.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if pf.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, pf.timeout)
				defer cancel()
			}
			if pf.remote != "" {
				return a.predictRemote(ctx, cmd.OutOrStdout(), args[0], pf)
			}
			return a.predictLocal(ctx, cmd.OutOrStdout(), args[0], pf)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&pf.UseDollars, "use-dollars", false, `replace \( and \) with $`)
	f.BoolVar(&pf.ConvertAlign, "convert-align", false, "split align* blocks into one $$ equation per row")
	f.BoolVar(&pf.UseTypst, "use-typst", false, "print Typst instead of LaTeX")
	f.BoolVar(&pf.MathML, "mathml", false, "also print a MathML rendering")
	f.IntVar(&pf.MaxLength, "max-length", 0, "lower the generated token cap for this image")
	f.StringVar(&pf.remote, "remote", "", "gRPC address of a running server")
	f.BoolVar(&pf.asJSON, "json", false, "print the full result as JSON")
	f.DurationVar(&pf.timeout, "timeout", 0, "give up after this long")
	return cmd
}

func (a *app) predictLocal(ctx context.Context, out io.Writer, path string, pf predictFlags) error {
	img, err := imageprep.Load(path)
	if err != nil {
		return err
	}

	c, err := a.build(ctx, false)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.service.Reload(ctx, "cli"); err != nil {
		return fmt.Errorf("load model from %s: %w", a.cfg.ModelDir, err)
	}

	p, err := c.service.Predict(ctx, "cli", img, service.PredictRequest{
		Options: inference.Options{
			Options: postprocess.Options{
				UseDollars:   pf.UseDollars,
				ConvertAlign: pf.ConvertAlign,
				UseTypst:     pf.UseTypst,
			},
			MaxLength: pf.MaxLength,
		},
		MathML: pf.MathML,
	})
	if err != nil {
		return err
	}
	if pf.asJSON {
		return writeJSON(out, p)
	}
	return writeResult(out, p.LaTeX, p.MathML)
}

func (a *app) predictRemote(ctx context.Context, out io.Writer, path string, pf predictFlags) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image %s: %w", path, err)
	}
	client, err := grpcapi.Dial(pf.remote)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Predict(ctx, data, pf.PredictOptions)
	if err != nil {
		return fmt.Errorf("remote predict: %w", err)
	}
	if pf.asJSON {
		return writeJSON(out, resp)
	}
	latex, _ := resp["latex"].(string)
	mathml, _ := resp["mathml"].(string)
	return writeResult(out, latex, mathml)
}

func writeResult(out io.Writer, latex, mathml string) error {
	if _, err := fmt.Fprintln(out, latex); err != nil {
		return err
	}
	if mathml != "" {
		_, err := fmt.Fprintln(out, mathml)
		return err
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
