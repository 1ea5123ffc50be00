package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/felixgeelhaar/pythonquest/internal/app"
	"github.com/felixgeelhaar/pythonquest/internal/config"
	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/progress"
)

// openApp wires the components in process. Warnings go to stderr so they
// never mix with program output.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return app.New(ctx, cfg, app.WithLogger(logger))
}

func cmdLessons() error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cyan.Println("Lessons")
	for _, s := range a.Catalog.Summaries() {
		fmt.Printf("  %-18s %-34s %2d tests  %s\n",
			s.ID, s.Title, s.TestCount, yellow.Sprintf("+%d XP +%d gems", s.Reward.XP, s.Reward.Gems))
	}
	return nil
}

func cmdShow(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: pythonquest show <lesson>")
	}
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.Catalog.Get(args[0])
	if err != nil {
		return err
	}

	cyan.Println(l.Title)
	fmt.Printf("%s\n\n", strings.TrimSpace(l.Description))
	bold.Println("Starter code:")
	fmt.Println(l.StarterCode)
	bold.Println("Tests:")
	for i, t := range l.Tests {
		fmt.Printf("  %d. %s\n", i+1, t.Description)
	}
	fmt.Printf("\nReward: %s\n", yellow.Sprintf("+%d XP, +%d gems", l.Reward.XP, l.Reward.Gems))
	return nil
}

func cmdRun(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: pythonquest run <file|->")
	}
	source, err := readSource(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.Engine.Execute(ctx, source)
	if result.Failed() {
		red.Println(result.Text())
		return nil
	}
	fmt.Println(result.Text())
	return nil
}

func cmdSubmit(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: pythonquest submit <lesson> <file|->")
	}
	source, err := readSource(args[1])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.Catalog.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Println("Grading...")
	report := a.Engine.Submit(ctx, l, source)
	printReport(os.Stdout, &report)

	if report.Reward == nil {
		return nil
	}
	userID := a.Config.Progress.UserID
	if err := a.Recorder.Record(ctx, domain.NewCompletion(userID, &report)); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

func printReport(w io.Writer, report *domain.GradingReport) {
	for _, o := range report.Outcomes {
		if o.Passed {
			green.Fprintf(w, "  ✓ %s\n", o.Description)
			continue
		}
		red.Fprintf(w, "  ✗ %s\n", o.Description)
		if o.Error != "" {
			fmt.Fprintf(w, "      %s\n", o.Error)
		}
	}

	fmt.Fprintf(w, "\n%d/%d tests passed\n", report.Passed(), len(report.Outcomes))
	if report.Reward != nil {
		green.Fprintf(w, "Lesson complete! +%d XP, +%d gems\n", report.Reward.XP, report.Reward.Gems)
	}
}

func cmdHint(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: pythonquest hint <lesson> <file|->")
	}
	source, err := readSource(args[1])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.Catalog.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Println(a.Engine.GetHint(ctx, source, l.Description))
	return nil
}

func cmdExplain(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: pythonquest explain <file|-> [error]")
	}
	source, err := readSource(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	errText := strings.Join(args[1:], " ")
	if errText == "" {
		result := a.Engine.Execute(ctx, source)
		if !result.Failed() {
			green.Println("The program ran without errors; nothing to explain.")
			return nil
		}
		errText = result.Error
	}

	fmt.Println(a.Engine.ExplainError(ctx, source, errText))
	return nil
}

func cmdProgress(args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	userID := a.Config.Progress.UserID
	if len(args) > 0 {
		userID = args[0]
	}

	completions, err := a.Store.List(ctx, userID)
	if err != nil {
		return fmt.Errorf("list completions: %w", err)
	}
	totals, err := progress.Totals(ctx, a.Store, userID)
	if err != nil {
		return err
	}

	cyan.Printf("Progress for %s\n", userID)
	for _, c := range completions {
		fmt.Printf("  %s  %-18s +%d XP +%d gems\n",
			c.RecordedAt.Local().Format("2006-01-02 15:04"), c.LessonID, c.XPEarned, c.GemsEarned)
	}
	fmt.Printf("\nLessons completed: %d\n", totals.LessonsCompleted)
	yellow.Printf("Total: %d XP, %d gems\n", totals.XP, totals.Gems)
	return nil
}

// readSource reads a program from path, or from stdin when path is "-"
func readSource(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(data), nil
}
