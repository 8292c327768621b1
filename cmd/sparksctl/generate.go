package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fulmine-labs/sparks/internal/client"
	"github.com/fulmine-labs/sparks/internal/mimes"
	"github.com/fulmine-labs/sparks/internal/poll"
	"github.com/fulmine-labs/sparks/internal/service"
)

var (
	genModel         string
	genNumOutputs    int
	genGuidanceScale float64
	genSteps         int
	genOutDir        string
	genWait          bool

	waitInterval time.Duration
	waitTimeout  time.Duration
)

func init() {
	generateCmd.Flags().StringVarP(&genModel, "model", "m", "", "model name")
	generateCmd.Flags().IntVarP(&genNumOutputs, "num", "n", 1, "number of images (1-4)")
	generateCmd.Flags().Float64VarP(&genGuidanceScale, "guidance", "", 0, "guidance scale (1-20)")
	generateCmd.Flags().IntVarP(&genSteps, "steps", "", 0, "inference steps (10-100)")
	generateCmd.Flags().StringVarP(&genOutDir, "out", "o", ".", "directory to write images to")
	generateCmd.Flags().BoolVarP(&genWait, "wait", "w", false, "wait for the invoice to be paid and download the images")
	generateCmd.Flags().DurationVarP(&waitInterval, "wait-interval", "", 3*time.Second, "payment poll interval")
	generateCmd.Flags().DurationVarP(&waitTimeout, "wait-timeout", "", 15*time.Minute, "give up waiting for payment after")

	retrieveCmd.Flags().StringVarP(&genOutDir, "out", "o", ".", "directory to write images to")
	retrieveCmd.Flags().BoolVarP(&genWait, "wait", "w", false, "poll until the invoice is paid")
	retrieveCmd.Flags().DurationVarP(&waitInterval, "wait-interval", "", 3*time.Second, "payment poll interval")
	retrieveCmd.Flags().DurationVarP(&waitTimeout, "wait-timeout", "", 15*time.Minute, "give up waiting for payment after")

	rootCmd.AddCommand(generateCmd, retrieveCmd, invoiceCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "generate images from a prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doGenerate,
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <payment_hash>",
	Short: "download the images unlocked by a paid invoice",
	Args:  cobra.ExactArgs(1),
	RunE:  doRetrieve,
}

var invoiceCmd = &cobra.Command{
	Use:   "invoice <payment_hash>",
	Short: "show invoice status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().InvoiceStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

func doGenerate(cmd *cobra.Command, args []string) error {
	c := newClient()
	ctx := cmd.Context()

	resp, err := c.Generate(ctx, service.GenerateRequest{
		Prompt:            strings.Join(args, " "),
		Model:             genModel,
		NumOutputs:        genNumOutputs,
		GuidanceScale:     genGuidanceScale,
		NumInferenceSteps: genSteps,
	})
	if err != nil {
		return err
	}
	if verbose {
		printJSON(resp)
	}

	if resp.Status == service.StatusCompleted {
		fmt.Printf("generated %d image(s) in %.1fs\n", len(resp.ImageURLs), resp.ProcessingTime)
		for _, u := range resp.ImageURLs {
			fmt.Println(u)
		}
		return writeImages(resp.ImageBase64, "image")
	}

	if resp.Invoice == nil {
		return fmt.Errorf("unexpected status %q", resp.Status)
	}

	hash := resp.Invoice.PaymentHash
	fmt.Printf("pay %d sats to unlock:\n\n%s\n\npayment hash: %s\n", resp.Invoice.AmountSats, resp.Invoice.PaymentRequest, hash)
	if !genWait {
		fmt.Printf("\nthen run: sparksctl retrieve %s\n", hash)
		return nil
	}

	return retrieve(cmd, c, hash)
}

func doRetrieve(cmd *cobra.Command, args []string) error {
	return retrieve(cmd, newClient(), args[0])
}

func retrieve(cmd *cobra.Command, c *client.Client, hash string) error {
	var (
		r   *service.RetrieveResponse
		err error
	)
	if genWait {
		fmt.Println("waiting for payment...")
		r, err = c.WaitForResult(cmd.Context(), hash, poll.Policy{
			Interval: waitInterval,
			Timeout:  waitTimeout,
		})
		if errors.Is(err, poll.ErrTimeout) {
			return fmt.Errorf("invoice %s still unpaid after %v", hash, waitTimeout)
		}
	} else {
		r, err = c.Retrieve(cmd.Context(), hash)
	}
	if err != nil {
		return err
	}

	return writeImages(r.ImageBase64, hash)
}

func writeImages(encoded []string, prefix string) error {
	if len(encoded) == 0 {
		return nil
	}
	if err := os.MkdirAll(genOutDir, os.ModePerm); err != nil {
		return err
	}

	for i, s := range encoded {
		if s == "" {
			fmt.Printf("image %d: download failed upstream, skipped\n", i)
			continue
		}
		mimetype, data, err := mimes.ParseDataURI(s)
		if err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}

		path := filepath.Join(genOutDir, fmt.Sprintf("%s-%d%s", prefix, i, mimes.FileExtension(mimetype)))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes)\n", path, len(data))
	}
	return nil
}
