package training

import (
	"fmt"
	"strings"
	"time"
)

// ProgressBar renders an in-place progress line for one epoch: percentage,
// bar, step counts, elapsed and remaining time, throughput, and whatever
// metrics the trainer reports for the current step.
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a bar for total steps under the given description.
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       70,
		metrics:     make(map[string]float64),
	}
}

// Update advances the bar to step and redraws it with the given metrics.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish fills the bar and moves to the next line.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Println()
}

func (pb *ProgressBar) render() {
	fraction := float64(pb.current) / float64(pb.total)
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var remaining time.Duration
	var rate float64
	if pb.current > 0 && fraction > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		remaining = time.Duration(float64(elapsed)/fraction) - elapsed
	}

	var line strings.Builder
	fmt.Fprintf(&line, "\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, fraction*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(remaining))
	if rate > 0 {
		fmt.Fprintf(&line, ", %.2fbatch/s", rate)
	}
	for key, value := range pb.metrics {
		if strings.Contains(key, "acc") {
			fmt.Fprintf(&line, ", %s=%.2f%%", key, value*100)
		} else {
			fmt.Fprintf(&line, ", %s=%.4f", key, value)
		}
	}
	line.WriteString("]")

	// The carriage return overwrites the previous line in place.
	fmt.Print(line.String())
}

// formatDuration renders a duration as MM:SS.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
