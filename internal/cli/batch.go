package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gmsas95/chronosage/internal/app"
	"github.com/gmsas95/chronosage/internal/batch"
)

type batchArgs struct {
	input  string
	output string
	config batch.Config
	help   bool
}

func parseBatchArgs(args []string) (batchArgs, error) {
	ba := batchArgs{config: batch.DefaultConfig()}

	next := func(i int) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("%s needs a value", args[i])
		}
		return args[i+1], nil
	}
	nextInt := func(i int) (int, error) {
		v, err := next(i)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%s must be a non-negative number", args[i])
		}
		return n, nil
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "-i", "--input":
			ba.input, err = next(i)
			i++
		case "-o", "--output":
			ba.output, err = next(i)
			i++
		case "-c", "--concurrency":
			ba.config.MaxConcurrency, err = nextInt(i)
			i++
		case "-t", "--timeout":
			var secs int
			secs, err = nextInt(i)
			ba.config.Timeout = time.Duration(secs) * time.Second
			i++
		case "-r", "--retries":
			ba.config.RetryCount, err = nextInt(i)
			i++
		case "-h", "--help":
			ba.help = true
		default:
			err = fmt.Errorf("unknown flag %q", args[i])
		}
		if err != nil {
			return ba, err
		}
	}

	if !ba.help && ba.input == "" {
		return ba, fmt.Errorf("input file is required")
	}
	return ba, nil
}

func HandleBatchCommand(args []string, application *app.App) {
	if len(args) == 0 {
		PrintBatchHelp()
		return
	}

	ba, err := parseBatchArgs(args)
	if ba.help {
		PrintBatchHelp()
		return
	}
	if err != nil {
		printError(os.Stderr, err.Error())
		fmt.Println("Usage: chronosage batch -i <input_file> [-o <output_file>]")
		os.Exit(1)
	}

	if _, err := os.Stat(ba.input); os.IsNotExist(err) {
		printError(os.Stderr, "input file not found: "+ba.input)
		os.Exit(1)
	}

	asst := newAssistant(application)
	processor := batch.NewProcessor(asst, ba.config, application.Logger)

	result, err := runBatch(context.Background(), processor, ba, os.Stdout)
	if err != nil {
		printError(os.Stderr, err.Error())
		os.Exit(1)
	}
	if result.Failed > 0 {
		os.Exit(2)
	}
}

func runBatch(ctx context.Context, processor *batch.Processor, ba batchArgs, out io.Writer) (*batch.Result, error) {
	fmt.Fprintf(out, "Processing batch file: %s\n", ba.input)
	fmt.Fprintf(out, "   Concurrency: %d | Timeout: %v | Retries: %d\n\n", ba.config.MaxConcurrency, ba.config.Timeout, ba.config.RetryCount)

	result, err := processor.ProcessFile(ctx, ba.input, ba.output)
	if err != nil {
		return result, fmt.Errorf("processing batch: %w", err)
	}

	fmt.Fprintln(out, result.Summary())
	if ba.output != "" {
		printSuccess(out, "Results saved to: %s", ba.output)
	}

	if result.Failed > 0 || result.Skipped > 0 {
		fmt.Fprintln(out, "\nNot scheduled:")
		for _, item := range result.Items {
			if !item.Success {
				fmt.Fprintf(out, "  - %s: %s\n", item.ID, item.Error)
			}
		}
	}
	return result, nil
}
