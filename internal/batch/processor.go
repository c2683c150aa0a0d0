// Package batch schedules many natural-language requests from a file.
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/chronosage/internal/calendar"
	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/security"
)

// Scheduler creates one event from a request. *assistant.Manager satisfies it.
type Scheduler interface {
	Schedule(ctx context.Context, input string) (*calendar.Event, error)
}

type Processor struct {
	scheduler Scheduler
	validator *security.RequestValidator
	config    Config
	logger    *zap.Logger
}

type Config struct {
	MaxConcurrency int
	Timeout        time.Duration
	RetryCount     int
	RetryDelay     time.Duration
	SkipInvalid    bool
	ValidateInput  bool
}

type InputItem struct {
	ID      string `json:"id"`
	Request string `json:"request"`
}

type OutputItem struct {
	ID           string        `json:"id"`
	Input        string        `json:"input"`
	EventID      string        `json:"event_id,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Start        time.Time     `json:"start"`
	Link         string        `json:"link,omitempty"`
	Attempts     int           `json:"attempts"`
	ResponseTime time.Duration `json:"response_time"`
	Success      bool          `json:"success"`
	Skipped      bool          `json:"skipped,omitempty"`
	Error        string        `json:"error,omitempty"`
	Code         string        `json:"code,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

type Result struct {
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
	Items     []OutputItem  `json:"items"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 3,
		Timeout:        60 * time.Second,
		RetryCount:     2,
		RetryDelay:     1 * time.Second,
		SkipInvalid:    true,
		ValidateInput:  true,
	}
}

func NewProcessor(s Scheduler, cfg Config, logger *zap.Logger) *Processor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		scheduler: s,
		validator: security.NewRequestValidator(),
		config:    cfg,
		logger:    logger,
	}
}

// ProcessFile reads requests from inputPath, schedules them, and writes the
// outcome to outputPath when it is not empty.
func (p *Processor) ProcessFile(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	items, err := p.loadInputFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load input file: %w", err)
	}

	result := p.Process(ctx, items)

	if outputPath != "" {
		if err := saveOutputFile(outputPath, result); err != nil {
			return result, fmt.Errorf("failed to save output file: %w", err)
		}
	}
	return result, nil
}

// Process schedules items on a bounded worker pool. Results keep the input
// order.
func (p *Processor) Process(ctx context.Context, items []InputItem) *Result {
	result := &Result{
		Total:     len(items),
		StartTime: time.Now(),
		Items:     make([]OutputItem, len(items)),
	}

	indexes := make(chan int, len(items))
	var wg sync.WaitGroup
	for i := 0; i < p.config.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				result.Items[idx] = p.processItem(ctx, items[idx])
			}
		}()
	}

	for i := range items {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	for _, out := range result.Items {
		switch {
		case out.Success:
			result.Success++
		case out.Skipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	p.logger.Info("Batch finished",
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration),
	)
	return result
}

func (p *Processor) processItem(ctx context.Context, item InputItem) OutputItem {
	output := OutputItem{
		ID:        item.ID,
		Input:     item.Request,
		Timestamp: time.Now(),
	}

	if p.config.ValidateInput {
		if err := p.validator.Validate(item.Request); err != nil {
			output.Skipped = true
			output.Error = err.Error()
			output.Code = errors.ErrBadRequest.Code
			return output
		}
	}

	var (
		ev  *calendar.Event
		err error
	)
	start := time.Now()
	for attempt := 0; attempt <= p.config.RetryCount; attempt++ {
		output.Attempts++
		ev, err = p.scheduleOnce(ctx, item.Request)
		if err == nil || !retryable(err) || attempt == p.config.RetryCount {
			break
		}

		p.logger.Debug("Retrying request", zap.String("id", item.ID), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(p.config.RetryDelay):
			continue
		}
		break
	}
	output.ResponseTime = time.Since(start)

	if err != nil {
		p.logger.Warn("Batch item failed", zap.String("id", item.ID), zap.Error(err))
		output.Error = errors.UserMessage(err)
		output.Code = errors.GetCode(err)
		return output
	}

	output.EventID = ev.ID
	output.Summary = ev.Summary
	output.Start = ev.Start
	output.Link = ev.HTMLLink
	output.Success = true
	return output
}

func (p *Processor) scheduleOnce(ctx context.Context, request string) (*calendar.Event, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}
	return p.scheduler.Schedule(ctx, request)
}

// retryable reports whether err is a transient upstream failure. A request
// the model or the calendar rejected fails the same way on every attempt.
func retryable(err error) bool {
	switch errors.GetCode(err) {
	case errors.ErrProviderUnavailable.Code, errors.ErrRateLimited.Code, errors.ErrCalendarUnavailable.Code:
		return true
	}
	return false
}

func (p *Processor) loadInputFile(path string) ([]InputItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl":
		return p.loadJSON(file)
	}
	return loadText(file)
}

// loadJSON reads a stream of {"id","request"} objects.
func (p *Processor) loadJSON(r io.Reader) ([]InputItem, error) {
	var items []InputItem
	decoder := json.NewDecoder(r)

	for decoder.More() {
		var item InputItem
		if err := decoder.Decode(&item); err != nil {
			if p.config.SkipInvalid {
				p.logger.Warn("Skipping undecodable batch entry", zap.Error(err))
				// The decoder cannot resync after a syntax error.
				break
			}
			return nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
		if item.ID == "" {
			item.ID = fmt.Sprintf("item-%d", len(items)+1)
		}
		items = append(items, item)
	}

	return items, nil
}

// loadText reads one request per line. Blank lines and # comments are
// ignored.
func loadText(r io.Reader) ([]InputItem, error) {
	var items []InputItem
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		items = append(items, InputItem{
			ID:      fmt.Sprintf("line-%d", lineNum),
			Request: line,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return items, nil
}

func saveOutputFile(path string, result *Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		encoder := json.NewEncoder(file)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	return result.WriteText(file)
}

// WriteText writes a human-readable report of every item.
func (r *Result) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, item := range r.Items {
		fmt.Fprintf(bw, "=== %s ===\n", item.ID)
		fmt.Fprintf(bw, "Request: %s\n", item.Input)
		switch {
		case item.Success:
			fmt.Fprintf(bw, "Created: %s at %s\n", item.Summary, item.Start.Format(time.RFC3339))
			if item.Link != "" {
				fmt.Fprintf(bw, "Link: %s\n", item.Link)
			}
		case item.Skipped:
			fmt.Fprintf(bw, "Skipped: %s\n", item.Error)
		default:
			fmt.Fprintf(bw, "Error [%s]: %s\n", item.Code, item.Error)
		}
		fmt.Fprintf(bw, "Attempts: %d | Time: %v\n\n", item.Attempts, item.ResponseTime)
	}
	return bw.Flush()
}

func (r *Result) Summary() string {
	var sb strings.Builder
	sb.WriteString("=== Batch Scheduling Summary ===\n")
	sb.WriteString(fmt.Sprintf("Total:     %d\n", r.Total))
	sb.WriteString(fmt.Sprintf("Created:   %d\n", r.Success))
	sb.WriteString(fmt.Sprintf("Failed:    %d\n", r.Failed))
	sb.WriteString(fmt.Sprintf("Skipped:   %d\n", r.Skipped))
	sb.WriteString(fmt.Sprintf("Duration:  %v\n", r.Duration.Round(time.Millisecond)))
	return sb.String()
}
