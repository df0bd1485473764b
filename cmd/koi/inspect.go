package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/openkoi/openkoi/internal/report"
	"github.com/openkoi/openkoi/internal/state"
)

// StatusCmd shows the currently running task, if any.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	app, err := newApp(cli)
	if err != nil {
		return err
	}
	w, err := state.NewWriter(app.base)
	if err != nil {
		return err
	}

	snap, ok, err := w.ReadCurrent()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no task running")
		return nil
	}

	fmt.Printf("task        %s\n", snap.TaskID)
	fmt.Printf("description %s\n", snap.Description)
	fmt.Printf("status      %s\n", snap.Status)
	fmt.Printf("iteration   %d\n", snap.Iteration)
	fmt.Printf("score       %.2f (best %.2f)\n", snap.Score, snap.BestScore)
	fmt.Printf("tokens      %d\n", snap.TokensSpent)
	fmt.Printf("updated     %s\n", snap.UpdatedAt.Format(time.RFC3339))
	return nil
}

// HistoryCmd lists finished tasks, newest last.
type HistoryCmd struct {
	Limit int `default:"20" help:"Number of entries to show"`
}

func (c *HistoryCmd) Run(cli *CLI) error {
	app, err := newApp(cli)
	if err != nil {
		return err
	}
	w, err := state.NewWriter(app.base)
	if err != nil {
		return err
	}

	entries, err := w.History(c.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no finished tasks")
		return nil
	}
	for _, e := range entries {
		fmt.Println(report.RenderHistoryLine(e.Description, e.Decision, e.BestScore, e.FinishedAt))
	}
	return nil
}

// SkillsCmd lists the evaluator skills found on the search paths.
type SkillsCmd struct{}

func (c *SkillsCmd) Run(cli *CLI) error {
	app, err := newApp(cli)
	if err != nil {
		return err
	}

	loaded := app.loadSkills().List()
	if len(loaded) == 0 {
		fmt.Println("no evaluator skills found")
		return nil
	}
	for _, s := range loaded {
		var dims []string
		for _, d := range s.Dimensions {
			dims = append(dims, fmt.Sprintf("%s=%.2f", d.Name, d.Weight))
		}
		categories := "any"
		if len(s.Categories) > 0 {
			categories = strings.Join(s.Categories, ", ")
		}
		fmt.Printf("%-20s categories: %-20s dimensions: %s\n", s.Name, categories, strings.Join(dims, " "))
	}
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Printf("koi version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
